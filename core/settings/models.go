package settings

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/formutil"
)

// Forms that can be opened or closed from the settings.
const (
	FormAdmission    = "admission"
	FormSSC          = "ssc"
	FormClass6       = "class-6"
	QuotaGeneral     = "general"
	ProfessionOther  = "Other"
	ClassSix         = "6"
	ClassNine        = "9"
	maxCSVListLength = 50
)

type (
	Option struct {
		Value string `json:"value" validate:"required,notblank,max=50"`
		Label string `json:"label" validate:"required,notblank,max=100"`
	}

	// ClassOptions are the dropdown values depending on the selected class.
	ClassOptions struct {
		Class    string   `json:"class"`
		Groups   []string `json:"groups"`
		Sections []string `json:"sections"`
		Shifts   []string `json:"shifts"`
		Versions []string `json:"versions"`
	}

	SubjectOptions struct {
		Compulsory []string            `json:"compulsory"`
		Group      map[string][]string `json:"group"`    // group -> compulsory group subjects
		Optional   map[string][]string `json:"optional"` // group -> 4th subject choices
	}

	// Settings is the backend settings object the form pages are built from.
	Settings struct {
		SessionYear            int            `json:"session_year"`
		AdmissionOpen          bool           `json:"admission_open"`
		SSCRegistrationOpen    bool           `json:"ssc_registration_open"`
		Class6RegistrationOpen bool           `json:"class6_registration_open"`
		AdmissionFee           int            `json:"admission_fee"`
		Classes                []ClassOptions `json:"classes"`
		Quotas                 []Option       `json:"quotas"`
		Professions            []string       `json:"professions"`
		Boards                 []string       `json:"boards"`
		SSCSubjects            SubjectOptions `json:"ssc_subjects"`
		UpdatedAt              time.Time      `json:"updated_at"`
	}
)

// Defaults returns the settings used until an admin saves their own.
func Defaults(now time.Time) Settings {
	juniorSections := []string{"A", "B", "C"}
	shifts := []string{"Morning", "Day"}
	versions := []string{"Bangla", "English"}
	groups := []string{"Science", "Business Studies", "Humanities"}

	classes := make([]ClassOptions, 0, 5)
	for _, c := range []string{"6", "7", "8"} {
		classes = append(classes, ClassOptions{Class: c, Sections: juniorSections, Shifts: shifts, Versions: versions})
	}
	for _, c := range []string{"9", "10"} {
		classes = append(classes, ClassOptions{Class: c, Groups: groups, Sections: []string{"A", "B"}, Shifts: shifts, Versions: versions})
	}

	return Settings{
		SessionYear:            now.Year(),
		AdmissionOpen:          true,
		SSCRegistrationOpen:    true,
		Class6RegistrationOpen: true,
		AdmissionFee:           500,
		Classes:                classes,
		Quotas: []Option{
			{Value: QuotaGeneral, Label: "General"},
			{Value: "freedom-fighter", Label: "Freedom Fighter Descendant"},
			{Value: "staff", Label: "Staff Child"},
			{Value: "sibling", Label: "Sibling Studying"},
			{Value: "special-needs", Label: "Special Needs"},
		},
		Professions: []string{
			"Farmer", "Teacher", "Service Holder", "Businessman", "Doctor", "Engineer",
			"Day Labourer", "Driver", "Expatriate", "Homemaker", ProfessionOther,
		},
		Boards: []string{
			"Dhaka", "Rajshahi", "Cumilla", "Jashore", "Chattogram", "Barishal",
			"Sylhet", "Dinajpur", "Mymensingh", "Madrasah", "Technical",
		},
		SSCSubjects: SubjectOptions{
			Compulsory: []string{
				"Bangla 1st Paper", "Bangla 2nd Paper", "English 1st Paper", "English 2nd Paper",
				"Mathematics", "Religion and Moral Education", "Information and Communication Technology",
			},
			Group: map[string][]string{
				"Science":          {"Physics", "Chemistry", "Bangladesh and Global Studies"},
				"Business Studies": {"Accounting", "Finance and Banking", "Business Entrepreneurship", "General Science"},
				"Humanities":       {"Geography and Environment", "History of Bangladesh and World Civilization", "Civics and Citizenship", "General Science"},
			},
			Optional: map[string][]string{
				"Science":          {"Higher Mathematics", "Biology", "Agriculture Studies"},
				"Business Studies": {"Agriculture Studies", "Home Science"},
				"Humanities":       {"Economics", "Agriculture Studies", "Home Science"},
			},
		},
		UpdatedAt: now.UTC(),
	}
}

// Options returns the class dependent dropdown values.
func (s Settings) Options(class string) (ClassOptions, error) {
	class = NormalizeClass(class)
	for _, c := range s.Classes {
		if c.Class == class {
			return c, nil
		}
	}
	return ClassOptions{}, ErrUnknownClass
}

// IsOpen reports whether submissions of the given form are accepted.
func (s Settings) IsOpen(form string) bool {
	switch form {
	case FormAdmission:
		return s.AdmissionOpen
	case FormSSC:
		return s.SSCRegistrationOpen
	case FormClass6:
		return s.Class6RegistrationOpen
	default:
		return false
	}
}

func (s Settings) HasQuota(value string) bool {
	for _, q := range s.Quotas {
		if q.Value == value {
			return true
		}
	}
	return false
}

func (s Settings) QuotaLabel(value string) string {
	for _, q := range s.Quotas {
		if q.Value == value {
			return q.Label
		}
	}
	return value
}

func (s Settings) HasBoard(board string) bool {
	return containsFold(s.Boards, board)
}

// CheckSelection returns the field errors of the class dependent selections that are not offered.
// Empty group/shift/version are accepted when the class offers none.
func (s Settings) CheckSelection(class, group, section, shift, version string) []core.FieldError {
	opts, err := s.Options(class)
	if err != nil {
		return []core.FieldError{{Field: "class", Error: err.Error()}}
	}

	var errs []core.FieldError
	check := func(field, value string, allowed []string) {
		switch {
		case len(allowed) == 0 && value == "":
		case len(allowed) == 0:
			errs = append(errs, core.FieldError{Field: field, Error: "class " + opts.Class + " has no " + field})
		case value == "":
			errs = append(errs, core.FieldError{Field: field, Error: "this field is required"})
		case !containsFold(allowed, value):
			errs = append(errs, core.FieldError{Field: field, Error: "must be one of: " + strings.Join(allowed, ", ")})
		}
	}
	check("group", group, opts.Groups)
	check("section", section, opts.Sections)
	check("shift", shift, opts.Shifts)
	check("version", version, opts.Versions)
	return errs
}

// OptionalSubjects returns the 4th subject choices of an SSC group.
func (s Settings) OptionalSubjects(group string) []string {
	for g, subjects := range s.SSCSubjects.Optional {
		if strings.EqualFold(g, group) {
			return subjects
		}
	}
	return nil
}

// GroupSubjects returns the compulsory subjects of an SSC group, common subjects included.
func (s Settings) GroupSubjects(group string) []string {
	res := append([]string(nil), s.SSCSubjects.Compulsory...)
	for g, subjects := range s.SSCSubjects.Group {
		if strings.EqualFold(g, group) {
			res = append(res, subjects...)
		}
	}
	return res
}

// UpdateClass holds the class dependent lists as comma separated values, as typed in the admin form.
type UpdateClass struct {
	Class    string `json:"class" validate:"required,numeric"`
	Groups   string `json:"groups" validate:"csv_list"`
	Sections string `json:"sections" validate:"required,notblank,csv_list"`
	Shifts   string `json:"shifts" validate:"csv_list"`
	Versions string `json:"versions" validate:"csv_list"`
}

// UpdateSettings defines what may be changed in the Settings. Nil / empty fields are left untouched.
type UpdateSettings struct {
	SessionYear            *int              `json:"session_year" validate:"omitempty,min=2000,max=2100"`
	AdmissionOpen          *bool             `json:"admission_open"`
	SSCRegistrationOpen    *bool             `json:"ssc_registration_open"`
	Class6RegistrationOpen *bool             `json:"class6_registration_open"`
	AdmissionFee           *int              `json:"admission_fee" validate:"omitempty,min=0"`
	Classes                []UpdateClass     `json:"classes" validate:"omitempty,dive"`
	Quotas                 []Option          `json:"quotas" validate:"omitempty,dive"`
	Professions            string            `json:"professions" validate:"csv_list"`
	Boards                 string            `json:"boards" validate:"csv_list"`
	SSCCompulsory          string            `json:"ssc_compulsory" validate:"csv_list"`
	SSCGroupSubjects       map[string]string `json:"ssc_group_subjects" validate:"omitempty,dive,csv_list"`
	SSCOptional            map[string]string `json:"ssc_optional" validate:"omitempty,dive,csv_list"`
}

// Apply returns a copy of `s` with the updates applied.
func (us UpdateSettings) Apply(s Settings) Settings {
	if us.SessionYear != nil {
		s.SessionYear = *us.SessionYear
	}
	if us.AdmissionOpen != nil {
		s.AdmissionOpen = *us.AdmissionOpen
	}
	if us.SSCRegistrationOpen != nil {
		s.SSCRegistrationOpen = *us.SSCRegistrationOpen
	}
	if us.Class6RegistrationOpen != nil {
		s.Class6RegistrationOpen = *us.Class6RegistrationOpen
	}
	if us.AdmissionFee != nil {
		s.AdmissionFee = *us.AdmissionFee
	}
	if len(us.Classes) > 0 {
		classes := make([]ClassOptions, 0, len(us.Classes))
		for _, uc := range us.Classes {
			classes = append(classes, ClassOptions{
				Class:    NormalizeClass(uc.Class),
				Groups:   csvList(uc.Groups),
				Sections: csvList(uc.Sections),
				Shifts:   csvList(uc.Shifts),
				Versions: csvList(uc.Versions),
			})
		}
		sort.SliceStable(classes, func(i, j int) bool { return classLess(classes[i].Class, classes[j].Class) })
		s.Classes = classes
	}
	if len(us.Quotas) > 0 {
		quotas := make([]Option, 0, len(us.Quotas))
		for _, q := range us.Quotas {
			quotas = append(quotas, Option{Value: core.CleanString(q.Value, true), Label: core.CollapseSpaces(q.Label)})
		}
		s.Quotas = quotas
	}
	if l := csvList(us.Professions); len(l) > 0 {
		if !containsFold(l, ProfessionOther) {
			l = append(l, ProfessionOther)
		}
		s.Professions = l
	}
	if l := csvList(us.Boards); len(l) > 0 {
		s.Boards = l
	}
	if l := csvList(us.SSCCompulsory); len(l) > 0 {
		s.SSCSubjects.Compulsory = l
	}
	if len(us.SSCGroupSubjects) > 0 {
		s.SSCSubjects.Group = csvMap(us.SSCGroupSubjects)
	}
	if len(us.SSCOptional) > 0 {
		s.SSCSubjects.Optional = csvMap(us.SSCOptional)
	}
	return s
}

// csvList splits a comma separated list; its length is checked by the `csv_list` validation.
func csvList(s string) []string {
	return formutil.SplitCSV(s)
}

func csvMap(m map[string]string) map[string][]string {
	res := make(map[string][]string, len(m))
	for k, v := range m {
		if k = core.CollapseSpaces(k); k != "" {
			res[k] = csvList(v)
		}
	}
	return res
}

// NormalizeClass accepts "6", "06", "Class 6" or "class-6".
func NormalizeClass(class string) string {
	class = strings.ToLower(core.CleanString(class))
	class = strings.TrimPrefix(class, "class")
	class = strings.Trim(class, " -_")
	if n, err := strconv.Atoi(formutil.CleanDigits(class)); err == nil {
		return strconv.Itoa(n)
	}
	return class
}

func classLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func containsFold(list []string, s string) bool {
	_, ok := core.Pick(list, s)
	return ok
}
