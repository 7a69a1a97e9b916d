package admission

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/settings"
)

var testNow = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

// fakeService serves the settings and the birth registration uniqueness check.
type fakeService struct {
	Service
	s     settings.Settings
	taken map[string]string // birth reg -> admission id
}

func (svc *fakeService) Settings(context.Context) (settings.Settings, error) {
	return svc.s, nil
}

func (svc *fakeService) CheckUniqueness(_ context.Context, _ int, birthReg string, excl ...Admission) error {
	if id, ok := svc.taken[birthReg]; ok && (len(excl) == 0 || excl[0].ID != id) {
		return core.NewValidationError(ErrBirthRegExists, core.FieldError{Field: "student.birth_reg", Error: ErrBirthRegExists.Error()})
	}
	return nil
}

func newValidator() (*validator.Validate, func(error) map[string]string) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	address.InitValidators(validate, translator)
	applicant.InitValidators(validate, translator)
	InitValidators(validate)

	fieldErrors := func(err error) map[string]string {
		switch e := err.(type) {
		case validator.ValidationErrors:
			return core.TranslateErrors(e, translator)
		case *core.ValidationError:
			return e.FieldErrors()
		default:
			return nil
		}
	}
	return validate, fieldErrors
}

func validForm() NewAdmission {
	return NewAdmission{
		Class:   "Class 6",
		Section: "a",
		Shift:   "morning",
		Version: "Bangla",
		Quota:   "General",
		Student: applicant.Student{
			NameEn:    "Rahim Uddin",
			NameBn:    "রহিম উদ্দিন",
			BirthReg:  "2013 2611 2345 67890",
			BirthDate: "01/05/2013",
			Gender:    "male",
			Religion:  "Islam",
			Email:     "rahim@mail.test",
		},
		Father: applicant.Parent{NameEn: "Karim Uddin", Mobile: "01711-000000", Profession: "farmer"},
		Mother: applicant.Parent{NameEn: "Rahima Begum", Profession: "Other", ProfessionOther: "homemaker"},
		PresentAddress: address.Address{
			Village: "Ashulia", PostOffice: "Savar", PostCode: "1340", Upazila: "savar", District: "dhaka",
		},
		SameAddress: true,
	}
}

func TestNewAdmission_Validate(t *testing.T) {
	applicant.NowFunc = func() time.Time { return testNow }
	defer func() { applicant.NowFunc = time.Now }()

	validate, fieldErrors := newValidator()
	ctx := context.Background()

	t.Run("valid form is cleaned", func(t *testing.T) {
		svc := &fakeService{s: settings.Defaults(testNow)}
		na := validForm()
		require.NoError(t, na.Validate(ctx, validate, svc))

		assert.Equal(t, "6", na.Class)
		assert.Equal(t, "A", na.Section)
		assert.Equal(t, "Morning", na.Shift)
		assert.Equal(t, "general", na.Quota)
		assert.Equal(t, "20132611234567890", na.Student.BirthReg)
		assert.Equal(t, "2013-05-01", na.Student.BirthDate)
		assert.Equal(t, "Farmer", na.Father.Profession)
		assert.Equal(t, "Homemaker", na.Mother.Profession, "other profession snapped to the known one")

		// guardian defaults to the father
		assert.Equal(t, applicant.RelationFather, na.Guardian.Relation)
		assert.Equal(t, "Karim Uddin", na.Guardian.Name)
		assert.Equal(t, "01711000000", na.Guardian.Mobile)
		assert.Equal(t, "Farmer", na.Guardian.Profession)

		// permanent address copied from the present one
		assert.Equal(t, na.PresentAddress, na.PermanentAddress)
		assert.Equal(t, "Savar", na.PermanentAddress.Upazila)
		assert.Equal(t, "Dhaka", na.PermanentAddress.District)
	})

	tests := []struct {
		name       string
		modify     func(na *NewAdmission)
		setup      func(svc *fakeService)
		wantFields []string
	}{
		{
			name:       "short birth registration",
			modify:     func(na *NewAdmission) { na.Student.BirthReg = "2013261123456789" },
			wantFields: []string{"student.birth_reg"},
		},
		{
			name:       "guardian checkbox requires the guardian",
			modify:     func(na *NewAdmission) { na.GuardianIsNotFather = true },
			wantFields: []string{"guardian.name", "guardian.relation", "guardian.mobile"},
		},
		{
			name:       "father mobile required when father is guardian",
			modify:     func(na *NewAdmission) { na.Father.Mobile = "" },
			wantFields: []string{"father.mobile"},
		},
		{
			name:       "other profession needs text",
			modify:     func(na *NewAdmission) { na.Father.Profession = "others" },
			wantFields: []string{"father.profession_other"},
		},
		{
			name: "permanent address required when not same",
			modify: func(na *NewAdmission) {
				na.SameAddress = false
				na.PermanentAddress = address.Address{District: "Gazipur", Upazila: "Savar"}
			},
			wantFields: []string{
				"permanent_address.village", "permanent_address.post_office",
				"permanent_address.post_code", "permanent_address.upazila",
			},
		},
		{
			name:       "upazila outside district",
			modify:     func(na *NewAdmission) { na.PresentAddress.Upazila = "Kaliakair" },
			wantFields: []string{"present_address.upazila", "permanent_address.upazila"},
		},
		{
			name:       "unknown section and class 6 group",
			modify:     func(na *NewAdmission) { na.Section = "Z"; na.Group = "Science" },
			wantFields: []string{"group", "section"},
		},
		{
			name:       "unknown quota",
			modify:     func(na *NewAdmission) { na.Quota = "vip" },
			wantFields: []string{"quota"},
		},
		{
			name:       "birth registration taken",
			setup:      func(svc *fakeService) { svc.taken["20132611234567890"] = "other-id" },
			wantFields: []string{"student.birth_reg"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{s: settings.Defaults(testNow), taken: map[string]string{}}
			if tt.setup != nil {
				tt.setup(svc)
			}
			na := validForm()
			if tt.modify != nil {
				tt.modify(&na)
			}
			err := na.Validate(ctx, validate, svc)
			require.Error(t, err)

			fields := fieldErrors(err)
			got := make([]string, 0, len(fields))
			for f := range fields {
				got = append(got, f)
			}
			assert.ElementsMatch(t, tt.wantFields, got)
		})
	}

	t.Run("closed", func(t *testing.T) {
		s := settings.Defaults(testNow)
		s.AdmissionOpen = false
		na := validForm()
		err := na.Validate(ctx, validate, &fakeService{s: s})
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, ErrClosed, vErr.Err)

		// editing an existing application is still possible
		na = validForm()
		assert.NoError(t, na.Validate(ctx, validate, &fakeService{s: s}, Admission{ID: "a1", SessionYear: 2025}))
	})

	t.Run("own birth registration on edit", func(t *testing.T) {
		svc := &fakeService{s: settings.Defaults(testNow), taken: map[string]string{"20132611234567890": "a1"}}
		na := validForm()
		assert.NoError(t, na.Validate(ctx, validate, svc, Admission{ID: "a1", SessionYear: 2025}))
	})
}

func TestNewAdmission_ErrorMessages(t *testing.T) {
	applicant.NowFunc = func() time.Time { return testNow }
	defer func() { applicant.NowFunc = time.Now }()

	validate, fieldErrors := newValidator()
	na := validForm()
	na.Student.BirthReg = "123"
	na.PresentAddress.PostCode = "13400"
	na.Mother.ProfessionOther = ""

	fields := fieldErrors(na.Validate(context.Background(), validate, &fakeService{s: settings.Defaults(testNow)}))
	assert.Equal(t, map[string]string{
		"student.birth_reg":           "birth registration number must be exactly 17 digits",
		"present_address.post_code":   "post code must be exactly 4 digits",
		"permanent_address.post_code": "post code must be exactly 4 digits",
		"mother.profession_other":     "please specify the profession",
	}, fields)
}

func TestAdmission(t *testing.T) {
	s := settings.Defaults(testNow)
	adm := Admission{
		ID: "a1", SessionYear: 2025, Serial: 42, Status: StatusPending, Class: "6", Section: "A", Quota: "staff", Fee: 500,
		Student:  applicant.Student{NameEn: "Rahim Uddin", BirthDate: "2013-05-01"},
		Guardian: applicant.Guardian{Mobile: "01711000000"},
	}
	assert.Equal(t, "ADM-2025-0042", adm.ApplicationNo())
	assert.True(t, adm.IsEditable())

	conf := adm.Confirmation(s)
	assert.Equal(t, "ADM-2025-0042", conf.ApplicationNo)
	assert.Equal(t, "Staff Child", conf.Quota)
	assert.Equal(t, "01711000000", conf.Mobile)

	adm.Status = StatusApproved
	assert.False(t, adm.IsEditable())
}

func TestQueryFilter_Clean(t *testing.T) {
	qf := QueryFilter{Class: "Class 9", Statuses: []string{"Pending, approved", ""}, Serials: "1-3,7"}
	require.NoError(t, qf.Clean())
	assert.Equal(t, "9", qf.Class)
	assert.Equal(t, []string{"pending", "approved"}, qf.Statuses)
	assert.Equal(t, []int{1, 2, 3, 7}, qf.SerialList)

	qf = QueryFilter{Serials: "3-x"}
	var vErr *core.ValidationError
	require.ErrorAs(t, qf.Clean(), &vErr)
	assert.Contains(t, vErr.FieldErrors(), "serials")
}
