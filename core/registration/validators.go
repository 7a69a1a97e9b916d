package registration

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bhorti/core/applicant"
)

// InitValidators registers the registration validations.
func InitValidators(validate *validator.Validate) {
	validate.RegisterStructValidation(registrationStructValidation, NewRegistration{})
}

// registrationStructValidation applies the rules that depend on the kind of registration:
// SSC needs the JSC/JDC section, class 6 needs the previous (PSC) school.
func registrationStructValidation(sl validator.StructLevel) {
	nr, ok := sl.Current().Interface().(NewRegistration)
	if !ok {
		return
	}
	applicant.CheckGuardian(sl, nr.Father, nr.Guardian, nr.GuardianIsNotFather)
	applicant.CheckProfessionOther(sl, "father", nr.Father)
	applicant.CheckProfessionOther(sl, "mother", nr.Mother)

	switch nr.Kind {
	case KindSSC:
		if nr.SSC == nil {
			sl.ReportError(nr.SSC, "ssc", "SSC", "required", "")
		}
	case KindClass6:
		ps := nr.PreviousSchool
		if ps.Name == "" {
			sl.ReportError(ps.Name, "previous_school.name", "PreviousSchool.Name", "required", "")
		}
		if ps.Roll == "" {
			sl.ReportError(ps.Roll, "previous_school.roll", "PreviousSchool.Roll", "required", "")
		}
		if ps.PassingYear == "" {
			sl.ReportError(ps.PassingYear, "previous_school.passing_year", "PreviousSchool.PassingYear", "required", "")
		}
	}
}
