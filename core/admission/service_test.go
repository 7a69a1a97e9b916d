package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/settings"
	"github.com/trezcool/bhorti/storage/database/sqlx"
	"github.com/trezcool/bhorti/testutil"
)

var testNow = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc         admission.Service
	settingsSvc settings.Service
	mails       *testutil.MailRecorder
}

func setup(t *testing.T) fixture {
	admission.NowFunc = func() time.Time { return testNow }
	settings.NowFunc = func() time.Time { return testNow }
	applicant.NowFunc = func() time.Time { return testNow }
	t.Cleanup(func() {
		admission.NowFunc = time.Now
		settings.NowFunc = time.Now
		applicant.NowFunc = time.Now
	})

	db := testutil.PrepareDB(t)
	mails := new(testutil.MailRecorder)
	settingsSvc := settings.NewService(sqlxrepos.NewSettingsRepository(db), nil, testutil.NopLogger{})
	svc := admission.NewService(
		db,
		sqlxrepos.NewAdmissionRepository(db),
		sqlxrepos.NewSerialCounter(db),
		settingsSvc,
		mails,
		testutil.NopLogger{},
	)
	return fixture{svc: svc, settingsSvc: settingsSvc, mails: mails}
}

func form(name, birthReg, email string) admission.NewAdmission {
	return admission.NewAdmission{
		Class:   "6",
		Section: "A",
		Shift:   "Morning",
		Version: "Bangla",
		Quota:   settings.QuotaGeneral,
		Student: applicant.Student{
			NameEn: name, BirthReg: birthReg, BirthDate: "2013-05-01", Gender: "Male", Religion: "Islam", Email: email,
		},
		Father: applicant.Parent{NameEn: "Karim Uddin", Mobile: "01711000000", Profession: "Farmer"},
		Mother: applicant.Parent{NameEn: "Rahima Begum", Profession: "Homemaker"},
		PresentAddress: address.Address{
			Village: "Ashulia", PostOffice: "Savar", PostCode: "1340", Upazila: "Savar", District: "Dhaka",
		},
		SameAddress: true,
	}
}

func submit(t *testing.T, svc admission.Service, na admission.NewAdmission) admission.Admission {
	t.Helper()
	validate := testutil.NewValidator()
	require.NoError(t, na.Validate(context.Background(), validate, svc))
	adm, err := svc.Create(context.Background(), na)
	require.NoError(t, err)
	return adm
}

func TestService_Create(t *testing.T) {
	fx := setup(t)
	svc, mails := fx.svc, fx.mails
	ctx := context.Background()

	a1 := submit(t, svc, form("Rahim Uddin", "20132611234567890", "rahim@mail.test"))
	a2 := submit(t, svc, form("Karim Hasan", "20132611234567891", ""))

	assert.Equal(t, 1, a1.Serial)
	assert.Equal(t, 2, a2.Serial)
	assert.Equal(t, 2025, a1.SessionYear)
	assert.Equal(t, admission.StatusPending, a1.Status)
	assert.Equal(t, 500, a1.Fee)
	assert.Equal(t, "ADM-2025-0001", a1.ApplicationNo())

	require.Len(t, mails.Messages, 1, "no mail without an email address")
	assert.Equal(t, "admission_received", mails.Messages[0].TemplateName)
	assert.Equal(t, "rahim@mail.test", mails.Messages[0].To[0].Address)

	// the same birth registration cannot apply twice in a session
	na := form("Rahim Again", "20132611234567890", "")
	err := na.Validate(ctx, testutil.NewValidator(), svc)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors(), "student.birth_reg")

	got, err := svc.Get(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rahim Uddin", got.Student.NameEn)
	assert.Equal(t, "Savar", got.PermanentAddress.Upazila)
}

func TestService_UpdateAndConfirm(t *testing.T) {
	fx := setup(t)
	svc := fx.svc
	ctx := context.Background()
	adm := submit(t, svc, form("Rahim Uddin", "20132611234567890", ""))

	na := form("Rahim Uddin Khan", "20132611234567890", "")
	require.NoError(t, na.Validate(ctx, testutil.NewValidator(), svc, adm))
	adm, err := svc.Update(ctx, adm, na)
	require.NoError(t, err)
	assert.Equal(t, "Rahim Uddin Khan", adm.Student.NameEn)

	conf, err := svc.Confirm(ctx, 0, adm.Serial, "2013 2611 2345 67890")
	require.NoError(t, err)
	assert.Equal(t, "ADM-2025-0001", conf.ApplicationNo)
	assert.Equal(t, "Rahim Uddin Khan", conf.StudentName)
	assert.Equal(t, "General", conf.Quota)

	_, err = svc.Confirm(ctx, 2025, adm.Serial, "20132611234567899")
	assert.Equal(t, admission.ErrConfirmationFail, err)
	_, err = svc.Confirm(ctx, 2025, 99, "20132611234567890")
	assert.Equal(t, admission.ErrConfirmationFail, err)

	_, err = svc.SetStatus(ctx, admission.StatusUpdate{IDs: []string{adm.ID}, Status: admission.StatusApproved}, "headmaster")
	require.NoError(t, err)
	adm, err = svc.Get(ctx, adm.ID)
	require.NoError(t, err)
	_, err = svc.Update(ctx, adm, na)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, admission.ErrNotEditable, vErr.Err)
}

func TestService_StaleUpdate(t *testing.T) {
	fx := setup(t)
	svc := fx.svc
	ctx := context.Background()
	adm := submit(t, svc, form("Rahim Uddin", "20132611234567890", ""))

	stale, err := svc.Get(ctx, adm.ID)
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, admission.StatusUpdate{IDs: []string{adm.ID}, Status: admission.StatusApproved}, "headmaster")
	require.NoError(t, err)

	_, err = svc.Update(ctx, stale, form("Rahim Stale", "20132611234567890", ""))
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, admission.ErrNotEditable, vErr.Err)

	got, err := svc.Get(ctx, adm.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusApproved, got.Status)
	assert.Equal(t, "headmaster", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.Equal(t, "Rahim Uddin", got.Student.NameEn)
}

func TestService_DuplicateBirthReg(t *testing.T) {
	fx := setup(t)
	svc := fx.svc
	ctx := context.Background()
	submit(t, svc, form("Rahim Uddin", "20132611234567890", ""))

	// a concurrent submission that passed validation before the first one was stored
	_, err := svc.Create(ctx, form("Rahim Again", "20132611234567890", ""))
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors(), "student.birth_reg")
}

func TestService_SetStatus(t *testing.T) {
	fx := setup(t)
	svc, mails := fx.svc, fx.mails
	ctx := context.Background()

	birthRegs := []string{"20132611234567890", "20132611234567891", "20132611234567892", "20132611234567893"}
	var adms []admission.Admission
	for i, br := range birthRegs {
		adms = append(adms, submit(t, svc, form("Student "+string(rune('A'+i)), br, "s"+string(rune('a'+i))+"@mail.test")))
	}
	mails.Messages = nil

	approved, err := svc.ApproveSerials(ctx, 0, "1-2, 4", "headmaster")
	require.NoError(t, err)
	require.Len(t, approved, 3)
	for _, a := range approved {
		assert.Equal(t, admission.StatusApproved, a.Status)
		assert.Equal(t, "headmaster", a.ReviewedBy)
		require.NotNil(t, a.ReviewedAt)
	}
	assert.Equal(t, []int{1, 2, 4}, []int{approved[0].Serial, approved[1].Serial, approved[2].Serial})
	assert.Len(t, mails.Messages, 3)
	assert.Equal(t, "admission_approved", mails.Messages[0].TemplateName)

	rejected, err := svc.SetStatus(ctx, admission.StatusUpdate{IDs: []string{adms[2].ID}, Status: admission.StatusRejected}, "office")
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, admission.StatusRejected, rejected[0].Status)
	assert.Len(t, mails.Messages, 3, "rejections are not mailed")

	none, err := svc.ApproveSerials(ctx, 2025, "50-60", "headmaster")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.ApproveSerials(ctx, 2025, "5-x", "headmaster")
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors(), "serials")

	pending, err := svc.Query(ctx, &admission.QueryFilter{Statuses: []string{"pending"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := svc.Delete(ctx, adms[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_Closed(t *testing.T) {
	fx := setup(t)
	svc := fx.svc
	ctx := context.Background()

	closed := false
	_, err := fx.settingsSvc.Update(ctx, settings.UpdateSettings{AdmissionOpen: &closed})
	require.NoError(t, err)

	na := form("Rahim Uddin", "20132611234567890", "")
	err = na.Validate(ctx, testutil.NewValidator(), svc)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, admission.ErrClosed, vErr.Err)
}
