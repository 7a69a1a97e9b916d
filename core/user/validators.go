package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/bhorti/core"
	appfs "github.com/trezcool/bhorti/fs"
)

const commonPasswordsAsset = "assets/common-passwords.txt.gz"

var (
	allRolesTag  = "allroles"
	allRolesText = "invalid roles"

	alphanumUnderscoreTag   = "alphanum_"
	alphanumUnderscoreText  = "only letters, digits and underscores are allowed"
	alphanumUnderscoreRegex = regexp.MustCompile(`^\w+$`)

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = "one of username or email is required"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "password is too common"
	commonPasswords []string
)

// InitValidators registers the user validations and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(allRolesTag, allRolesValidation)
	core.RegisterCustomTranslation(validate, translator, allRolesTag, allRolesText)

	_ = validate.RegisterValidation(alphanumUnderscoreTag, func(fl validator.FieldLevel) bool {
		return alphanumUnderscoreRegex.MatchString(fl.Field().String())
	})
	core.RegisterCustomTranslation(validate, translator, alphanumUnderscoreTag, alphanumUnderscoreText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, ResetUserPassword{})
	core.RegisterCustomTranslation(validate, translator, usernameOrEmailTag, usernameOrEmailText)
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdNoCommonTag, pwdNoCommonText)
}

// LoadCommonPasswords loads the embedded list of passwords rejected by the password policy.
func LoadCommonPasswords(logger core.Logger) {
	file, err := appfs.FS.Open(commonPasswordsAsset)
	if err != nil {
		logger.Error("opening common passwords: "+err.Error(), err)
		return
	}
	defer func() { _ = file.Close() }()

	gzRdr, err := gzip.NewReader(file)
	if err != nil {
		logger.Error("reading common passwords: "+err.Error(), err)
		return
	}
	pwds := make([]string, 0, 128)
	scanner := bufio.NewScanner(gzRdr)
	for scanner.Scan() {
		if pwd := strings.ToLower(strings.TrimSpace(scanner.Text())); pwd != "" {
			pwds = append(pwds, pwd)
		}
	}
	sort.Strings(pwds)
	commonPasswords = pwds
}

// Custom Validators

// allRolesValidation checks that provided user roles are all in AllRoles
func allRolesValidation(fl validator.FieldLevel) bool {
	roles, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, role := range roles {
		if RolePriority(role) == 0 {
			return false
		}
	}
	return true
}

// userStructValidation does struct level validation on NewUser and ResetUserPassword.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		// one of Username or Email is required
		if usr.Username == "" && usr.Email == "" {
			sl.ReportError(usr.Username, "username", "Username", usernameOrEmailTag, "")
			sl.ReportError(usr.Email, "email", "Email", usernameOrEmailTag, "")
		}
		validatePassword(sl, usr.Password, usr.Name, usr.Username, usr.Email)
	case ResetUserPassword:
		validatePassword(sl, usr.Password, usr.name, usr.username, usr.email)
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func validatePassword(sl validator.StructLevel, pwd, name, uname, email string) {
	if pwd == "" {
		return // `required` reports it
	}
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}

	var (
		digitCount         int
		hasUpper, hasLower bool
	)

	runes := []rune(pwd)
	if len(runes) < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}
	for _, char := range runes {
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		hasUpper = hasUpper || unicode.IsUpper(char)
		hasLower = hasLower || unicode.IsLower(char)
	}

	if digitCount == len(runes) {
		reportErr(pwdNotAllNumTag)
		return
	}

	if !(hasUpper && hasLower && digitCount > 0 && specialRegex.MatchString(pwd)) {
		reportErr(pwdComplexityTag)
		return
	}

	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(strings.ToLower(pass), ""), strings.Split(strings.ToLower(usrAttr), "")).QuickRatio()
	}
	if getRatio(pwd, name) >= pwdMaxSim ||
		getRatio(pwd, uname) >= pwdMaxSim ||
		getRatio(pwd, email) >= pwdMaxSim {
		reportErr(pwdAttrSimTag)
		return
	}

	lpwd := strings.ToLower(pwd)
	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) && commonPasswords[idx] == lpwd {
		reportErr(pwdNoCommonTag)
	}
}
