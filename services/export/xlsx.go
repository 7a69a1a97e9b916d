// Package exportsvc reads and writes the spreadsheets the school office works with.
package exportsvc

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
)

const dateFmt = "2006-01-02 15:04"

var (
	admissionHeader = []interface{}{
		"Application No", "Serial", "Status", "Class", "Group", "Section", "Shift", "Version", "Quota",
		"Student Name", "Student Name (Bangla)", "Birth Reg. No", "Date of Birth", "Gender", "Religion",
		"Father", "Mother", "Guardian", "Guardian Mobile", "Present Address", "Permanent Address",
		"Previous School", "Fee", "Submitted At", "Reviewed By",
	}
	registrationHeader = []interface{}{
		"Registration No", "Serial", "Status", "Class", "Group", "Section", "Shift", "Roll",
		"Student Name", "Birth Reg. No", "Date of Birth", "Gender", "Religion",
		"Father", "Mother", "Guardian Mobile", "Present Address", "Permanent Address",
		"Previous Exam", "Subjects", "4th Subject", "Submitted At", "Reviewed By",
	}
)

// WriteAdmissions writes `adms` as a single sheet workbook.
func WriteAdmissions(w io.Writer, adms []admission.Admission) error {
	rows := make([][]interface{}, 0, len(adms))
	for _, a := range adms {
		rows = append(rows, []interface{}{
			a.ApplicationNo(), a.Serial, string(a.Status), a.Class, a.Group, a.Section, a.Shift, a.Version, a.Quota,
			a.Student.NameEn, a.Student.NameBn, a.Student.BirthReg, a.Student.BirthDate, a.Student.Gender,
			a.Student.Religion, a.Father.NameEn, a.Mother.NameEn, a.Guardian.Name, a.Guardian.Mobile,
			a.PresentAddress.String(), a.PermanentAddress.String(), a.PreviousSchool.Name, a.Fee,
			a.CreatedAt.Format(dateFmt), a.ReviewedBy,
		})
	}
	return write(w, "Admissions", admissionHeader, rows)
}

// WriteRegistrations writes `regs` as a single sheet workbook named after `kind`.
func WriteRegistrations(w io.Writer, kind registration.Kind, regs []registration.Registration) error {
	rows := make([][]interface{}, 0, len(regs))
	for _, r := range regs {
		var prevExam, subjects, optional string
		if r.SSC != nil {
			prevExam = strings.Join([]string{r.SSC.JSCBoard, r.SSC.JSCYear, r.SSC.JSCRoll, r.SSC.JSCRegNo}, " / ")
			subjects = strings.Join(r.SSC.Subjects, ", ")
			optional = r.SSC.OptionalSubject
		} else if r.PreviousSchool.Name != "" {
			prevExam = r.PreviousSchool.Name + " / " + r.PreviousSchool.PassingYear + " / " + r.PreviousSchool.Roll
		}
		rows = append(rows, []interface{}{
			r.RegistrationNo(), r.Serial, string(r.Status), r.Class, r.Group, r.Section, r.Shift, r.Roll,
			r.Student.NameEn, r.Student.BirthReg, r.Student.BirthDate, r.Student.Gender, r.Student.Religion,
			r.Father.NameEn, r.Mother.NameEn, r.Guardian.Mobile, r.PresentAddress.String(),
			r.PermanentAddress.String(), prevExam, subjects, optional, r.CreatedAt.Format(dateFmt), r.ReviewedBy,
		})
	}
	return write(w, strings.ToUpper(string(kind)), registrationHeader, rows)
}

func write(w io.Writer, sheet string, header []interface{}, rows [][]interface{}) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cErr := f.Close(); err == nil {
			err = cErr
		}
	}()

	if err = f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}

	if err = f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if err = f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return errors.Wrap(err, "styling header")
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err = f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return errors.Wrapf(err, "writing row %d", i+2)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err = f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return errors.Wrap(err, "sizing columns")
	}
	if err = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return errors.Wrap(err, "freezing header")
	}

	if _, err = f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}

// ReadSerials reads serial numbers from the first column of the first sheet, the header row is skipped.
// Cells may hold single serials or ranges ("4-9"). Blank cells are ignored.
func ReadSerials(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", errors.Wrap(err, "opening workbook")
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return "", errors.New("workbook has no sheet")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", errors.Wrapf(err, "reading sheet %s", sheet)
	}

	tokens := make([]string, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		tok := core.CollapseSpaces(row[0])
		if tok == "" {
			continue
		}
		if _, err := strconv.Atoi(tok); err != nil && !strings.Contains(tok, "-") {
			return "", errors.Errorf("row %d: %q is not a serial", i+1, tok)
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, ","), nil
}
