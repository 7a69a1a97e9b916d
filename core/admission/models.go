package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/formutil"
	"github.com/trezcool/bhorti/core/settings"
)

type Status = applicant.Status

const (
	StatusPending  = applicant.StatusPending
	StatusApproved = applicant.StatusApproved
	StatusRejected = applicant.StatusRejected
)

type Admission struct {
	ID          string `json:"id"`
	SessionYear int    `json:"session_year"`
	Serial      int    `json:"serial"`
	Status      Status `json:"status"`

	Class   string `json:"class"`
	Group   string `json:"group"`
	Section string `json:"section"`
	Shift   string `json:"shift"`
	Version string `json:"version"`
	Quota   string `json:"quota"`
	Fee     int    `json:"fee"`

	Student             applicant.Student        `json:"student"`
	Father              applicant.Parent         `json:"father"`
	Mother              applicant.Parent         `json:"mother"`
	GuardianIsNotFather bool                     `json:"guardian_is_not_father"`
	Guardian            applicant.Guardian       `json:"guardian"`
	PresentAddress      address.Address          `json:"present_address"`
	SameAddress         bool                     `json:"same_address"`
	PermanentAddress    address.Address          `json:"permanent_address"`
	PreviousSchool      applicant.PreviousSchool `json:"previous_school"`

	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"` // UTC
	CreatedAt  time.Time  `json:"created_at"`            // UTC
	UpdatedAt  time.Time  `json:"updated_at"`            // UTC
}

// ApplicationNo is the number printed on the confirmation slip, e.g. "ADM-2025-0042".
func (a Admission) ApplicationNo() string {
	return fmt.Sprintf("ADM-%d-%04d", a.SessionYear, a.Serial)
}

// IsEditable reports whether the applicant may still change the form.
func (a Admission) IsEditable() bool {
	return a.Status == StatusPending
}

// Confirmation returns the read-only view of the admission.
func (a Admission) Confirmation(s settings.Settings) Confirmation {
	return Confirmation{
		ID:            a.ID,
		ApplicationNo: a.ApplicationNo(),
		SessionYear:   a.SessionYear,
		Serial:        a.Serial,
		Status:        a.Status,
		StudentName:   a.Student.NameEn,
		StudentNameBn: a.Student.NameBn,
		FatherName:    a.Father.NameEn,
		MotherName:    a.Mother.NameEn,
		BirthDate:     a.Student.BirthDate,
		Class:         a.Class,
		Group:         a.Group,
		Section:       a.Section,
		Shift:         a.Shift,
		Version:       a.Version,
		Quota:         s.QuotaLabel(a.Quota),
		Mobile:        a.Guardian.Mobile,
		Photo:         a.Student.Photo,
		Fee:           a.Fee,
		SubmittedAt:   a.CreatedAt,
	}
}

// Confirmation is what the applicant sees (and prints) after submitting.
type Confirmation struct {
	ID            string    `json:"id"`
	ApplicationNo string    `json:"application_no"`
	SessionYear   int       `json:"session_year"`
	Serial        int       `json:"serial"`
	Status        Status    `json:"status"`
	StudentName   string    `json:"student_name"`
	StudentNameBn string    `json:"student_name_bn"`
	FatherName    string    `json:"father_name"`
	MotherName    string    `json:"mother_name"`
	BirthDate     string    `json:"birth_date"`
	Class         string    `json:"class"`
	Group         string    `json:"group,omitempty"`
	Section       string    `json:"section"`
	Shift         string    `json:"shift,omitempty"`
	Version       string    `json:"version,omitempty"`
	Quota         string    `json:"quota"`
	Mobile        string    `json:"mobile"`
	Photo         string    `json:"photo,omitempty"`
	Fee           int       `json:"fee"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// NewAdmission is the admission form, as submitted by the applicant.
type NewAdmission struct {
	Class   string `json:"class" validate:"required"`
	Group   string `json:"group"`
	Section string `json:"section"`
	Shift   string `json:"shift"`
	Version string `json:"version"`
	Quota   string `json:"quota" validate:"required"`

	Student             applicant.Student        `json:"student"`
	Father              applicant.Parent         `json:"father"`
	Mother              applicant.Parent         `json:"mother"`
	GuardianIsNotFather bool                     `json:"guardian_is_not_father"`
	Guardian            applicant.Guardian       `json:"guardian"`
	PresentAddress      address.Address          `json:"present_address"`
	SameAddress         bool                     `json:"same_address"`
	PermanentAddress    address.Address          `json:"permanent_address"`
	PreviousSchool      applicant.PreviousSchool `json:"previous_school"`
}

func (na *NewAdmission) Clean() {
	na.Class = settings.NormalizeClass(na.Class)
	na.Group = core.CollapseSpaces(na.Group)
	na.Section = core.CollapseSpaces(na.Section)
	na.Shift = core.CollapseSpaces(na.Shift)
	na.Version = core.CollapseSpaces(na.Version)
	na.Quota = core.CleanString(na.Quota, true /* lower */)

	na.Student.Clean()
	na.Father.Clean()
	na.Mother.Clean()
	na.Guardian.Clean()
	na.Guardian = applicant.ResolveGuardian(na.Father, na.Guardian, na.GuardianIsNotFather)

	na.PresentAddress.Clean()
	na.PermanentAddress.Clean()
	na.PermanentAddress = address.Resolve(na.PresentAddress, na.PermanentAddress, na.SameAddress)
	na.PreviousSchool.Clean()
}

// Validate cleans and validates the form against the current settings.
// `orig` is the admission being edited, if any.
func (na *NewAdmission) Validate(ctx context.Context, validate *validator.Validate, svc Service, orig ...Admission) error {
	na.Clean()
	if err := validate.Struct(na); err != nil {
		return err
	}

	s, err := svc.Settings(ctx)
	if err != nil {
		return err
	}
	session := s.SessionYear
	if len(orig) > 0 {
		session = orig[0].SessionYear
	} else if !s.IsOpen(settings.FormAdmission) {
		return core.NewValidationError(ErrClosed)
	}

	if fields := na.checkSettings(s); len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}
	return svc.CheckUniqueness(ctx, session, na.Student.BirthReg, orig...)
}

// checkSettings checks the selections offered by the settings and canonicalises them.
func (na *NewAdmission) checkSettings(s settings.Settings) []core.FieldError {
	fields := s.CheckSelection(na.Class, na.Group, na.Section, na.Shift, na.Version)
	if len(fields) == 0 {
		opts, _ := s.Options(na.Class)
		na.Group, _ = core.Pick(opts.Groups, na.Group)
		na.Section, _ = core.Pick(opts.Sections, na.Section)
		na.Shift, _ = core.Pick(opts.Shifts, na.Shift)
		na.Version, _ = core.Pick(opts.Versions, na.Version)
	}

	if !s.HasQuota(na.Quota) {
		fields = append(fields, core.FieldError{Field: "quota", Error: "unknown quota"})
	}
	if err := na.Father.ResolveProfession(s.Professions); err != nil {
		fields = append(fields, core.FieldError{Field: "father.profession_other", Error: err.Error()})
	}
	if err := na.Mother.ResolveProfession(s.Professions); err != nil {
		fields = append(fields, core.FieldError{Field: "mother.profession_other", Error: err.Error()})
	}
	if !na.GuardianIsNotFather {
		na.Guardian.Profession = na.Father.Profession
	}
	return fields
}

// StatusUpdate selects admissions either by id or by serial ranges of a session.
type StatusUpdate = applicant.StatusUpdate

// Orderings maps the accepted `ordering` query values to columns.
var Orderings = map[string]string{
	"serial":     "serial",
	"name":       "student_name",
	"class":      "class",
	"status":     "status",
	"created_at": "created_at",
}

type QueryFilter struct {
	IDs         []string  `query:"id"`
	SessionYear int       `query:"session"`
	Class       string    `query:"class"`
	Statuses    []string  `query:"status"`
	Quota       string    `query:"quota"`
	Search      string    `query:"search"`
	Serials     string    `query:"serials"`
	CreatedFrom time.Time `query:"-"` // created_from
	CreatedTo   time.Time `query:"-"` // created_to

	SerialList []int `query:"-"` // expanded Serials
}

// Clean normalises the filter and expands its serial ranges.
func (qf *QueryFilter) Clean() error {
	qf.Class = settings.NormalizeClass(qf.Class)
	qf.Quota = core.CleanString(qf.Quota, true /* lower */)
	qf.Search = core.CollapseSpaces(qf.Search)
	statuses := make([]string, 0, len(qf.Statuses))
	for _, st := range qf.Statuses {
		for _, s := range strings.Split(st, ",") {
			if s = core.CleanString(s, true /* lower */); s != "" {
				statuses = append(statuses, s)
			}
		}
	}
	qf.Statuses = statuses

	qf.SerialList = nil
	if qf.Serials = core.CleanString(qf.Serials); qf.Serials != "" {
		serials, err := formutil.ExpandRange(qf.Serials)
		if err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "serials", Error: err.Error()})
		}
		qf.SerialList = serials
	}
	return nil
}
