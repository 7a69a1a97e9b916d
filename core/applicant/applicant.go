// Package applicant holds the person related sections shared by the admission and registration forms.
package applicant

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/formutil"
)

const (
	DateLayout         = "2006-01-02"
	DefaultNationality = "Bangladeshi"
	RelationFather     = "Father"
)

var (
	// accepted birth date layouts, the first one is canonical
	dateLayouts = []string{DateLayout, "02/01/2006", "02-01-2006", "2/1/2006", "02.01.2006"}

	professionOtherTag  = "profession_other"
	professionOtherText = "please specify the profession"

	futureDateTag  = "notfuture"
	futureDateText = "date cannot be in the future"

	NowFunc = time.Now // mockable
)

// Status is the review status of an application.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// StatusUpdate selects applications either by id or by serial ranges ("1-20, 25") of a session.
type StatusUpdate struct {
	IDs         []string `json:"ids"`
	SessionYear int      `json:"session_year"`
	Serials     string   `json:"serials"`
	Status      Status   `json:"status" validate:"required"`
}

func (su *StatusUpdate) Validate(validate *validator.Validate) error {
	su.Serials = core.CleanString(su.Serials)
	su.Status = Status(core.CleanString(string(su.Status), true /* lower */))
	if err := validate.Struct(su); err != nil {
		return err
	}

	var fields []core.FieldError
	if !su.Status.IsValid() {
		fields = append(fields, core.FieldError{Field: "status", Error: "unknown status"})
	}
	if len(su.IDs) == 0 && su.Serials == "" {
		fields = append(fields, core.FieldError{Field: "ids", Error: "select applications by ids or serials"})
	}
	if su.Serials != "" {
		if _, err := formutil.ExpandRange(su.Serials); err != nil {
			fields = append(fields, core.FieldError{Field: "serials", Error: err.Error()})
		}
	}
	if len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}
	return nil
}

type (
	Student struct {
		NameEn      string `json:"name_en" validate:"required,notblank,max=100,engname"`
		NameBn      string `json:"name_bn" validate:"omitempty,max=100,bangla"`
		BirthReg    string `json:"birth_reg" validate:"required,birthreg"`
		BirthDate   string `json:"birth_date" validate:"required,datetime=2006-01-02,notfuture"`
		Gender      string `json:"gender" validate:"required,gender"`
		Religion    string `json:"religion" validate:"required,religion"`
		BloodGroup  string `json:"blood_group" validate:"omitempty,bloodgroup"`
		Nationality string `json:"nationality" validate:"required,notblank,max=50"`
		Mobile      string `json:"mobile" validate:"omitempty,mobile"`
		Email       string `json:"email" validate:"omitempty,email,max=254"`
		Photo       string `json:"photo" validate:"omitempty,max=255"`
	}

	Parent struct {
		NameEn          string `json:"name_en" validate:"required,notblank,max=100,engname"`
		NameBn          string `json:"name_bn" validate:"omitempty,max=100,bangla"`
		NID             string `json:"nid" validate:"omitempty,nid"`
		Mobile          string `json:"mobile" validate:"omitempty,mobile"`
		Profession      string `json:"profession" validate:"omitempty,max=100"`
		ProfessionOther string `json:"profession_other,omitempty" validate:"omitempty,max=100"`
		MonthlyIncome   int    `json:"monthly_income" validate:"min=0"`
	}

	// Guardian is only filled in when the guardian is not the father.
	Guardian struct {
		Name       string `json:"name" validate:"omitempty,max=100"`
		Relation   string `json:"relation" validate:"omitempty,max=50"`
		Mobile     string `json:"mobile" validate:"omitempty,mobile"`
		NID        string `json:"nid" validate:"omitempty,nid"`
		Profession string `json:"profession" validate:"omitempty,max=100"`
		Address    string `json:"address" validate:"omitempty,max=255"`
	}

	PreviousSchool struct {
		Name        string `json:"name" validate:"omitempty,max=150"`
		Address     string `json:"address" validate:"omitempty,max=255"`
		Class       string `json:"class" validate:"omitempty,max=20"`
		Roll        string `json:"roll" validate:"omitempty,roll"`
		PassingYear string `json:"passing_year" validate:"omitempty,year"`
		Result      string `json:"result" validate:"omitempty,max=20"`
		TCNumber    string `json:"tc_number" validate:"omitempty,max=50"`
	}
)

func (s *Student) Clean() {
	s.NameEn = core.CollapseSpaces(s.NameEn)
	s.NameBn = core.CollapseSpaces(s.NameBn)
	s.BirthReg = formutil.CleanDigits(s.BirthReg)
	s.BirthDate = CleanDate(s.BirthDate)
	s.Gender, _ = core.Pick(core.Genders, s.Gender)
	s.Religion, _ = core.Pick(core.Religions, s.Religion)
	s.BloodGroup, _ = core.Pick(core.BloodGroups, strings.ReplaceAll(s.BloodGroup, " ", ""))
	s.Nationality = core.CollapseSpaces(s.Nationality)
	if s.Nationality == "" {
		s.Nationality = DefaultNationality
	}
	s.Mobile = formutil.CleanMobile(s.Mobile)
	s.Email = core.CleanString(s.Email, true /* lower */)
	s.Photo = core.CleanString(s.Photo)
}

// Age returns the age of the student in full years on the given day.
func (s Student) Age(on time.Time) int {
	born, err := time.Parse(DateLayout, s.BirthDate)
	if err != nil {
		return 0
	}
	age := on.Year() - born.Year()
	if on.Month() < born.Month() || (on.Month() == born.Month() && on.Day() < born.Day()) {
		age--
	}
	return age
}

func (p *Parent) Clean() {
	p.NameEn = core.CollapseSpaces(p.NameEn)
	p.NameBn = core.CollapseSpaces(p.NameBn)
	p.NID = formutil.CleanDigits(p.NID)
	p.Mobile = formutil.CleanMobile(p.Mobile)
	p.Profession = core.CollapseSpaces(p.Profession)
	p.ProfessionOther = core.CollapseSpaces(p.ProfessionOther)
}

// ResolveProfession replaces an "Other" profession by its free text, snapped to `known` when close enough.
func (p *Parent) ResolveProfession(known []string) error {
	if p.Profession == "" {
		p.ProfessionOther = ""
		return nil
	}
	if !formutil.IsOther(p.Profession) {
		p.Profession, _ = core.Pick(known, p.Profession)
		p.ProfessionOther = ""
		return nil
	}
	prof, err := formutil.ResolveOther(p.Profession, p.ProfessionOther, known)
	if err != nil {
		return err
	}
	p.Profession, p.ProfessionOther = prof, ""
	return nil
}

func (g *Guardian) Clean() {
	g.Name = core.CollapseSpaces(g.Name)
	g.Relation = core.CollapseSpaces(g.Relation)
	g.Mobile = formutil.CleanMobile(g.Mobile)
	g.NID = formutil.CleanDigits(g.NID)
	g.Profession = core.CollapseSpaces(g.Profession)
	g.Address = core.CollapseSpaces(g.Address)
}

func (g Guardian) IsZero() bool {
	return g == Guardian{}
}

// ResolveGuardian returns the effective guardian: the father unless `notFather` is checked.
func ResolveGuardian(father Parent, guardian Guardian, notFather bool) Guardian {
	if notFather {
		return guardian
	}
	return Guardian{
		Name:       father.NameEn,
		Relation:   RelationFather,
		Mobile:     father.Mobile,
		NID:        father.NID,
		Profession: father.Profession,
	}
}

func (ps *PreviousSchool) Clean() {
	ps.Name = core.CollapseSpaces(ps.Name)
	ps.Address = core.CollapseSpaces(ps.Address)
	ps.Class = core.CollapseSpaces(ps.Class)
	ps.Roll = formutil.CleanDigits(ps.Roll)
	ps.PassingYear = formutil.CleanDigits(ps.PassingYear)
	ps.Result = strings.ToUpper(core.CollapseSpaces(ps.Result))
	ps.TCNumber = core.CollapseSpaces(ps.TCNumber)
}

func (ps PreviousSchool) IsZero() bool {
	return ps == PreviousSchool{}
}

// CleanDate converts the accepted date layouts to YYYY-MM-DD. Unparsable dates are returned trimmed.
func CleanDate(s string) string {
	raw := core.CleanString(formutil.ToASCIIDigits(s))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DateLayout)
		}
	}
	return raw
}

// CheckGuardian reports the guardian fields required by the "guardian is not the father" checkbox.
// Otherwise the father must be reachable.
func CheckGuardian(sl validator.StructLevel, father Parent, guardian Guardian, notFather bool) {
	if !notFather {
		if father.Mobile == "" {
			sl.ReportError(father.Mobile, "father.mobile", "Father.Mobile", "required", "")
		}
		return
	}
	if guardian.Name == "" {
		sl.ReportError(guardian.Name, "guardian.name", "Guardian.Name", "required", "")
	}
	if guardian.Relation == "" {
		sl.ReportError(guardian.Relation, "guardian.relation", "Guardian.Relation", "required", "")
	}
	if guardian.Mobile == "" {
		sl.ReportError(guardian.Mobile, "guardian.mobile", "Guardian.Mobile", "required", "")
	}
}

// CheckProfessionOther reports the missing free text of an "Other" profession.
func CheckProfessionOther(sl validator.StructLevel, prefix string, p Parent) {
	if formutil.IsOther(p.Profession) && p.ProfessionOther == "" {
		sl.ReportError(p.ProfessionOther, prefix+".profession_other", "ProfessionOther", professionOtherTag, "")
	}
}

// InitValidators registers the applicant validations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterCustomTranslation(validate, translator, professionOtherTag, professionOtherText)
	_ = validate.RegisterValidation(futureDateTag, notFutureValidation)
	core.RegisterCustomTranslation(validate, translator, futureDateTag, futureDateText)
}

func notFutureValidation(fl validator.FieldLevel) bool {
	t, err := time.Parse(DateLayout, fl.Field().String())
	if err != nil {
		return true // reported by `datetime`
	}
	return !t.After(NowFunc())
}
