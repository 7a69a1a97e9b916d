// Package pdfsvc renders the printable admission & registration slips.
package pdfsvc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
)

const (
	font       = "Helvetica"
	pageMargin = 15.0
	labelWidth = 55.0
	rowHeight  = 7.0
	photoW     = 30.0
	photoH     = 38.0
)

type row struct {
	label, value string
}

type Generator struct {
	schoolName string
	photos     core.FileStore
	logger     core.Logger
}

// NewGenerator returns a slip generator. `photos` may be nil, slips are then printed without photo.
func NewGenerator(conf *core.Config, photos core.FileStore, logger core.Logger) *Generator {
	return &Generator{schoolName: conf.AppName, photos: photos, logger: logger}
}

// AdmissionSlip writes the admission confirmation as a one-page PDF.
func (g Generator) AdmissionSlip(ctx context.Context, w io.Writer, c admission.Confirmation) error {
	class := c.Class
	if c.Group != "" {
		class += " (" + c.Group + ")"
	}
	rows := []row{
		{"Application No", c.ApplicationNo},
		{"Session", strconv.Itoa(c.SessionYear)},
		{"Status", strings.Title(string(c.Status))},
		{"Student's Name", c.StudentName},
		{"Father's Name", c.FatherName},
		{"Mother's Name", c.MotherName},
		{"Date of Birth", c.BirthDate},
		{"Class", class},
		{"Section", c.Section},
		{"Shift", c.Shift},
		{"Version", c.Version},
		{"Quota", c.Quota},
		{"Mobile", c.Mobile},
		{"Admission Fee", fmt.Sprintf("%d BDT", c.Fee)},
		{"Submitted At", c.SubmittedAt.Format("02 Jan 2006 15:04")},
	}
	return g.render(ctx, w, "Admission Form", c.ApplicationNo, c.Photo, rows)
}

// RegistrationSlip writes a SSC or class-6 registration as a one-page PDF.
func (g Generator) RegistrationSlip(ctx context.Context, w io.Writer, r registration.Registration) error {
	title := "Class Six Registration Form"
	if r.Kind == registration.KindSSC {
		title = "SSC Registration Form"
	}
	rows := []row{
		{"Registration No", r.RegistrationNo()},
		{"Session", strconv.Itoa(r.SessionYear)},
		{"Status", strings.Title(string(r.Status))},
		{"Student's Name", r.Student.NameEn},
		{"Father's Name", r.Father.NameEn},
		{"Mother's Name", r.Mother.NameEn},
		{"Date of Birth", r.Student.BirthDate},
		{"Birth Registration No", r.Student.BirthReg},
		{"Class", r.Class},
		{"Group", r.Group},
		{"Section", r.Section},
		{"Shift", r.Shift},
		{"Roll", r.Roll},
		{"Present Address", r.PresentAddress.String()},
		{"Permanent Address", r.PermanentAddress.String()},
	}
	if ssc := r.SSC; ssc != nil {
		rows = append(rows,
			row{"JSC Roll / Reg. No", ssc.JSCRoll + " / " + ssc.JSCRegNo},
			row{"JSC Board / Year", ssc.JSCBoard + " / " + ssc.JSCYear},
			row{"Subjects", strings.Join(ssc.Subjects, ", ")},
			row{"4th Subject", ssc.OptionalSubject},
		)
	} else if ps := r.PreviousSchool; ps.Name != "" {
		rows = append(rows, row{"Previous School", ps.Name}, row{"PSC Roll / Year", ps.Roll + " / " + ps.PassingYear})
	}
	return g.render(ctx, w, title, r.RegistrationNo(), r.Student.Photo, rows)
}

func (g Generator) render(ctx context.Context, w io.Writer, title, number, photo string, rows []row) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetTitle(title+" "+number, true)
	pdf.SetCreator(g.schoolName, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("") // core fonts are cp1252
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 2*pageMargin

	pdf.SetFont(font, "B", 16)
	pdf.CellFormat(contentW, 9, tr(g.schoolName), "", 1, "C", false, 0, "")
	pdf.SetFont(font, "", 12)
	pdf.CellFormat(contentW, 7, tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	tableW := contentW
	if g.drawPhoto(ctx, pdf, photo, pageW-pageMargin-photoW, pdf.GetY()) {
		tableW -= photoW + 5
	}

	for _, r := range rows {
		if r.value == "" {
			continue
		}
		pdf.SetFont(font, "B", 10)
		pdf.CellFormat(labelWidth, rowHeight, tr(r.label), "1", 0, "L", false, 0, "")
		pdf.SetFont(font, "", 10)
		pdf.CellFormat(tableW-labelWidth, rowHeight, tr(r.value), "1", 1, "L", false, 0, "")
	}

	pdf.Ln(20)
	pdf.SetFont(font, "", 10)
	half := contentW / 2
	pdf.CellFormat(half, 6, "Guardian's Signature", "T", 0, "L", false, 0, "")
	pdf.CellFormat(half, 6, "Headmaster's Signature", "T", 1, "R", false, 0, "")

	if err := pdf.Error(); err != nil {
		return errors.Wrap(err, "rendering pdf")
	}
	return errors.Wrap(pdf.Output(w), "writing pdf")
}

func (g Generator) drawPhoto(ctx context.Context, pdf *fpdf.Fpdf, photo string, x, y float64) bool {
	if photo == "" || g.photos == nil {
		return false
	}
	rc, err := g.photos.Open(ctx, photo)
	if err != nil {
		g.logger.Warn("opening photo "+photo, err)
		return false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		g.logger.Warn("reading photo "+photo, err)
		return false
	}

	tp := "JPG"
	if strings.EqualFold(path.Ext(photo), ".png") {
		tp = "PNG"
	}
	opts := fpdf.ImageOptions{ImageType: tp}
	pdf.RegisterImageOptionsReader(photo, opts, bytes.NewReader(data))
	if err = pdf.Error(); err != nil {
		// print the slip without it
		pdf.ClearError()
		g.logger.Warn("decoding photo "+photo, err)
		return false
	}
	pdf.ImageOptions(photo, x, y, photoW, photoH, false, opts, 0, "")
	return true
}
