package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Choices offered by every form.
var (
	Genders     = []string{"Male", "Female", "Third Gender"}
	Religions   = []string{"Islam", "Hinduism", "Buddhism", "Christianity", "Other"}
	BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
)

var (
	// custom validation tags & texts
	notBlankTag  = "notblank"
	notBlankText = "this field cannot be blank"

	mobileTag   = "mobile"
	mobileText  = "enter a valid 11 digit mobile number (01XXXXXXXXX)"
	mobileRegex = regexp.MustCompile(`^01[3-9]\d{8}$`)

	birthRegTag   = "birthreg"
	birthRegText  = "birth registration number must be exactly 17 digits"
	birthRegRegex = regexp.MustCompile(`^\d{17}$`)

	nidTag   = "nid"
	nidText  = "national ID must be 10, 13 or 17 digits"
	nidRegex = regexp.MustCompile(`^(\d{10}|\d{13}|\d{17})$`)

	postCodeTag   = "postcode"
	postCodeText  = "post code must be exactly 4 digits"
	postCodeRegex = regexp.MustCompile(`^\d{4}$`)

	rollTag   = "roll"
	rollText  = "roll must be a number of at most 6 digits"
	rollRegex = regexp.MustCompile(`^\d{1,6}$`)

	banglaTag   = "bangla"
	banglaText  = "only Bangla letters are allowed"
	banglaRegex = regexp.MustCompile(`^[\p{Bengali}\s.()]+$`)

	engNameTag   = "engname"
	engNameText  = "only English letters, spaces, dots and hyphens are allowed"
	engNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z\s.'\-]*$`)

	yearTag   = "year"
	yearText  = "enter a 4 digit year between 1990 and 2100"
	yearRegex = regexp.MustCompile(`^(199\d|20\d\d|2100)$`)

	genderTag  = "gender"
	genderText = "must be one of: " + strings.Join(Genders, ", ")

	religionTag  = "religion"
	religionText = "must be one of: " + strings.Join(Religions, ", ")

	bloodGroupTag  = "bloodgroup"
	bloodGroupText = "must be one of: " + strings.Join(BloodGroups, ", ")

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// NewTranslator returns the english translator used for validation error messages.
func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	registerRegex(validate, translator, mobileTag, mobileText, mobileRegex)
	registerRegex(validate, translator, birthRegTag, birthRegText, birthRegRegex)
	registerRegex(validate, translator, nidTag, nidText, nidRegex)
	registerRegex(validate, translator, postCodeTag, postCodeText, postCodeRegex)
	registerRegex(validate, translator, rollTag, rollText, rollRegex)
	registerRegex(validate, translator, banglaTag, banglaText, banglaRegex)
	registerRegex(validate, translator, engNameTag, engNameText, engNameRegex)
	registerRegex(validate, translator, yearTag, yearText, yearRegex)

	registerChoice(validate, translator, genderTag, genderText, Genders)
	registerChoice(validate, translator, religionTag, religionText, Religions)
	registerChoice(validate, translator, bloodGroupTag, bloodGroupText, BloodGroups)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, translator, notBlankTag, notBlankText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func registerRegex(validate *validator.Validate, translator ut.Translator, tag, text string, re *regexp.Regexp) {
	_ = validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
	RegisterCustomTranslation(validate, translator, tag, text)
}

func registerChoice(validate *validator.Validate, translator ut.Translator, tag, text string, choices []string) {
	_ = validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		_, ok := Pick(choices, fl.Field().String())
		return ok
	})
	RegisterCustomTranslation(validate, translator, tag, text)
}

// Custom Global Validators

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// TranslateErrors flattens validator.ValidationErrors into a map keyed by json field path,
// e.g. "present_address.post_code". The root struct name is dropped.
func TranslateErrors(errs validator.ValidationErrors, translator ut.Translator) map[string]string {
	fldErrs := make(map[string]string, len(errs))
	for _, vErr := range errs {
		key := vErr.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		if key == "" {
			key = vErr.Field()
		}
		fldErrs[key] = vErr.Translate(translator)
	}
	return fldErrs
}
