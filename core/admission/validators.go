package admission

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/bhorti/core/applicant"
)

// InitValidators registers the admission validations.
func InitValidators(validate *validator.Validate) {
	validate.RegisterStructValidation(admissionStructValidation, NewAdmission{})
}

// admissionStructValidation applies the rules driven by the form checkboxes and dropdowns:
// guardian fields are required when the guardian is not the father,
// the free text profession is required when "Other" is selected.
func admissionStructValidation(sl validator.StructLevel) {
	na, ok := sl.Current().Interface().(NewAdmission)
	if !ok {
		return
	}
	applicant.CheckGuardian(sl, na.Father, na.Guardian, na.GuardianIsNotFather)
	applicant.CheckProfessionOther(sl, "father", na.Father)
	applicant.CheckProfessionOther(sl, "mother", na.Mother)
}
