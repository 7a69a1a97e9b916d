package registration

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

// Kind is the registration form: SSC (class 9) or class 6.
type Kind string

const (
	KindSSC    Kind = "ssc"
	KindClass6 Kind = "class-6"
)

var Kinds = []Kind{KindSSC, KindClass6}

// ParseKind accepts "ssc", "SSC", "class-6", "class6" or "6".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ssc":
		return KindSSC, nil
	case "class-6", "class6", "class_6", "6":
		return KindClass6, nil
	default:
		return "", ErrUnknownKind
	}
}

// Form is the settings form opening/closing the registration.
func (k Kind) Form() string {
	if k == KindSSC {
		return settings.FormSSC
	}
	return settings.FormClass6
}

// Class is the class the students register in.
func (k Kind) Class() string {
	if k == KindSSC {
		return settings.ClassNine
	}
	return settings.ClassSix
}

func (k Kind) prefix() string {
	if k == KindSSC {
		return "SSC"
	}
	return "C6"
}

type (
	Status       = applicant.Status
	StatusUpdate = applicant.StatusUpdate
)

const (
	StatusPending  = applicant.StatusPending
	StatusApproved = applicant.StatusApproved
	StatusRejected = applicant.StatusRejected
)

// SSCInfo is the SSC specific part of the form: the JSC/JDC exam and the subject choice.
type SSCInfo struct {
	JSCRoll         string   `json:"jsc_roll" validate:"required,roll"`
	JSCRegNo        string   `json:"jsc_reg_no" validate:"required,numeric,max=20"`
	JSCBoard        string   `json:"jsc_board" validate:"required,notblank"`
	JSCYear         string   `json:"jsc_year" validate:"required,year"`
	JSCResult       string   `json:"jsc_result" validate:"omitempty,max=10"`
	Subjects        []string `json:"subjects"`
	OptionalSubject string   `json:"optional_subject" validate:"required,notblank"`
}

func (si *SSCInfo) Clean() {
	si.JSCRoll = formutil.CleanDigits(si.JSCRoll)
	si.JSCRegNo = formutil.CleanDigits(si.JSCRegNo)
	si.JSCBoard = core.CollapseSpaces(si.JSCBoard)
	si.JSCYear = formutil.CleanDigits(si.JSCYear)
	si.JSCResult = strings.ToUpper(core.CollapseSpaces(si.JSCResult))
	si.OptionalSubject = core.CollapseSpaces(si.OptionalSubject)

	// the form may post the subjects as a single comma separated value
	si.Subjects = formutil.SplitCSV(strings.Join(si.Subjects, ","))
}

type Registration struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	SessionYear int    `json:"session_year"`
	Serial      int    `json:"serial"`
	Status      Status `json:"status"`

	Class   string `json:"class"`
	Group   string `json:"group"`
	Section string `json:"section"`
	Shift   string `json:"shift"`
	Version string `json:"version"`
	Roll    string `json:"roll"`

	Student             applicant.Student        `json:"student"`
	Father              applicant.Parent         `json:"father"`
	Mother              applicant.Parent         `json:"mother"`
	GuardianIsNotFather bool                     `json:"guardian_is_not_father"`
	Guardian            applicant.Guardian       `json:"guardian"`
	PresentAddress      address.Address          `json:"present_address"`
	SameAddress         bool                     `json:"same_address"`
	PermanentAddress    address.Address          `json:"permanent_address"`
	PreviousSchool      applicant.PreviousSchool `json:"previous_school"`
	SSC                 *SSCInfo                 `json:"ssc,omitempty"`

	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"` // UTC
	CreatedAt  time.Time  `json:"created_at"`            // UTC
	UpdatedAt  time.Time  `json:"updated_at"`            // UTC
}

// RegistrationNo is the number printed on the registration slip, e.g. "SSC-2025-0007".
func (r Registration) RegistrationNo() string {
	return fmt.Sprintf("%s-%d-%04d", r.Kind.prefix(), r.SessionYear, r.Serial)
}

func (r Registration) IsEditable() bool {
	return r.Status == StatusPending
}

// NewRegistration is the registration form, as submitted by the student.
type NewRegistration struct {
	Kind    Kind   `json:"-"`
	Group   string `json:"group"`
	Section string `json:"section"`
	Shift   string `json:"shift"`
	Version string `json:"version"`
	Roll    string `json:"roll" validate:"required,roll"`

	Student             applicant.Student        `json:"student"`
	Father              applicant.Parent         `json:"father"`
	Mother              applicant.Parent         `json:"mother"`
	GuardianIsNotFather bool                     `json:"guardian_is_not_father"`
	Guardian            applicant.Guardian       `json:"guardian"`
	PresentAddress      address.Address          `json:"present_address"`
	SameAddress         bool                     `json:"same_address"`
	PermanentAddress    address.Address          `json:"permanent_address"`
	PreviousSchool      applicant.PreviousSchool `json:"previous_school"`
	SSC                 *SSCInfo                 `json:"ssc"`
}

func (nr *NewRegistration) Clean() {
	nr.Group = core.CollapseSpaces(nr.Group)
	nr.Section = core.CollapseSpaces(nr.Section)
	nr.Shift = core.CollapseSpaces(nr.Shift)
	nr.Version = core.CollapseSpaces(nr.Version)
	nr.Roll = formutil.CleanDigits(nr.Roll)

	nr.Student.Clean()
	nr.Father.Clean()
	nr.Mother.Clean()
	nr.Guardian.Clean()
	nr.Guardian = applicant.ResolveGuardian(nr.Father, nr.Guardian, nr.GuardianIsNotFather)

	nr.PresentAddress.Clean()
	nr.PermanentAddress.Clean()
	nr.PermanentAddress = address.Resolve(nr.PresentAddress, nr.PermanentAddress, nr.SameAddress)
	nr.PreviousSchool.Clean()

	if nr.Kind != KindSSC {
		nr.SSC = nil
		nr.Group = ""
	} else if nr.SSC != nil {
		nr.SSC.Clean()
	}
}

// Validate cleans and validates the form against the current settings.
// `orig` is the registration being edited, if any.
func (nr *NewRegistration) Validate(ctx context.Context, validate *validator.Validate, svc Service, orig ...Registration) error {
	nr.Clean()
	if err := validate.Struct(nr); err != nil {
		return err
	}

	s, err := svc.Settings(ctx)
	if err != nil {
		return err
	}
	session := s.SessionYear
	if len(orig) > 0 {
		session = orig[0].SessionYear
	} else if !s.IsOpen(nr.Kind.Form()) {
		return core.NewValidationError(ErrClosed)
	}

	if fields := nr.checkSettings(s); len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}
	return svc.CheckUniqueness(ctx, nr.Kind, session, nr.Student.BirthReg, orig...)
}

// checkSettings checks the selections offered by the settings and canonicalises them.
func (nr *NewRegistration) checkSettings(s settings.Settings) []core.FieldError {
	class := nr.Kind.Class()
	fields := s.CheckSelection(class, nr.Group, nr.Section, nr.Shift, nr.Version)
	if len(fields) == 0 {
		opts, _ := s.Options(class)
		nr.Group, _ = core.Pick(opts.Groups, nr.Group)
		nr.Section, _ = core.Pick(opts.Sections, nr.Section)
		nr.Shift, _ = core.Pick(opts.Shifts, nr.Shift)
		nr.Version, _ = core.Pick(opts.Versions, nr.Version)
	}

	if err := nr.Father.ResolveProfession(s.Professions); err != nil {
		fields = append(fields, core.FieldError{Field: "father.profession_other", Error: err.Error()})
	}
	if err := nr.Mother.ResolveProfession(s.Professions); err != nil {
		fields = append(fields, core.FieldError{Field: "mother.profession_other", Error: err.Error()})
	}
	if !nr.GuardianIsNotFather {
		nr.Guardian.Profession = nr.Father.Profession
	}

	if nr.Kind == KindSSC && nr.SSC != nil {
		fields = append(fields, nr.checkSubjects(s)...)
	}
	return fields
}

// checkSubjects fills in the compulsory subjects of the group and checks the optional (4th) subject.
func (nr *NewRegistration) checkSubjects(s settings.Settings) []core.FieldError {
	var fields []core.FieldError
	si := nr.SSC

	if board, ok := core.Pick(s.Boards, si.JSCBoard); ok {
		si.JSCBoard = board
	} else {
		fields = append(fields, core.FieldError{Field: "ssc.jsc_board", Error: "unknown board"})
	}

	compulsory := s.GroupSubjects(nr.Group)
	for _, subj := range si.Subjects {
		if _, ok := core.Pick(compulsory, subj); !ok {
			fields = append(fields, core.FieldError{Field: "ssc.subjects", Error: "unknown subject: " + subj})
			break
		}
	}
	si.Subjects = compulsory

	optional := s.OptionalSubjects(nr.Group)
	if subj, ok := core.Pick(optional, si.OptionalSubject); !ok {
		fields = append(fields, core.FieldError{
			Field: "ssc.optional_subject",
			Error: "must be one of: " + strings.Join(optional, ", "),
		})
	} else if _, dup := core.Pick(compulsory, subj); dup {
		fields = append(fields, core.FieldError{Field: "ssc.optional_subject", Error: "already a compulsory subject"})
	} else {
		si.OptionalSubject = subj
	}
	return fields
}

// Orderings maps the accepted `ordering` query values to columns.
var Orderings = map[string]string{
	"serial":     "serial",
	"name":       "student_name",
	"roll":       "roll",
	"section":    "section",
	"status":     "status",
	"created_at": "created_at",
}

type QueryFilter struct {
	Kind        Kind      `query:"-"`
	IDs         []string  `query:"id"`
	SessionYear int       `query:"session"`
	Group       string    `query:"group"`
	Section     string    `query:"section"`
	Statuses    []string  `query:"status"`
	Search      string    `query:"search"`
	Serials     string    `query:"serials"`
	CreatedFrom time.Time `query:"-"` // created_from
	CreatedTo   time.Time `query:"-"` // created_to

	SerialList []int `query:"-"` // expanded Serials
}

// Clean normalises the filter and expands its serial ranges.
func (qf *QueryFilter) Clean() error {
	qf.Group = core.CollapseSpaces(qf.Group)
	qf.Section = core.CollapseSpaces(qf.Section)
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
