package sqlxrepos

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	"github.com/trezcool/bhorti/core/user"
	"github.com/trezcool/bhorti/testutil"
)

var now = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testutil.PrepareDB(t))

	admin := testutil.CreateUser(t, repo, "Head Master", "headmaster", "head@school.test", "S3cure!pass", []string{user.RoleAdminOwner}, true, now)
	staff := testutil.CreateUser(t, repo, "Office Staff", "office", "", "S3cure!pass", []string{user.RoleStaff}, true, now.Add(time.Hour))
	inactive := testutil.CreateUser(t, repo, "Old Clerk", "", "clerk@school.test", "", nil, false, now.Add(2*time.Hour))

	t.Run("uniqueness", func(t *testing.T) {
		assert.Equal(t, user.ErrUserExists, repo.CheckUsernameUniqueness(ctx, "office", "", nil))
		assert.Equal(t, user.ErrUserExists, repo.CheckUsernameUniqueness(ctx, "", "head@school.test", nil))
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "office", "", []user.User{staff}))
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "newcomer", "new@school.test", nil))
		// empty usernames are stored as NULL and never clash
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "", "", nil))

		_, err := repo.CreateUser(ctx, user.User{Name: "Dup", Username: "office", PasswordHash: []byte("x")})
		assert.Equal(t, user.ErrUserExists, err)
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetUser(ctx, user.GetFilter{ID: admin.ID})
		require.NoError(t, err)
		assert.Equal(t, "headmaster", got.Username)
		assert.Equal(t, []string{user.RoleAdminOwner}, got.Roles)
		assert.NoError(t, got.CheckPassword("S3cure!pass"))
		assert.True(t, got.Active())
		assert.True(t, got.CreatedAt.Equal(now))

		got, err = repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"clerk@school.test"}})
		require.NoError(t, err)
		assert.Equal(t, inactive.ID, got.ID)
		assert.False(t, got.Active())
		assert.Empty(t, got.Roles)

		_, err = repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
		assert.Equal(t, user.ErrNotFound, err)
		_, err = repo.GetUser(ctx, user.GetFilter{Username: "nobody"})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("query", func(t *testing.T) {
		yes, no := true, false
		tests := []struct {
			name    string
			filter  *user.QueryFilter
			order   []core.DBOrdering
			wantIDs []string
		}{
			{name: "all", wantIDs: []string{admin.ID, staff.ID, inactive.ID}},
			{name: "search", filter: &user.QueryFilter{Search: "OFFICE"}, wantIDs: []string{staff.ID}},
			{name: "admins", filter: &user.QueryFilter{Roles: []string{user.RoleAdmin}}, wantIDs: []string{admin.ID}},
			{name: "staff or admin", filter: &user.QueryFilter{Roles: []string{user.RoleStaff, "admin"}}, wantIDs: []string{admin.ID, staff.ID}},
			{name: "active", filter: &user.QueryFilter{IsActive: &yes}, wantIDs: []string{admin.ID, staff.ID}},
			{name: "inactive", filter: &user.QueryFilter{IsActive: &no}, wantIDs: []string{inactive.ID}},
			{name: "ordered", order: []core.DBOrdering{{Field: "created_at"}}, wantIDs: []string{inactive.ID, staff.ID, admin.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				users, err := repo.QueryUsers(ctx, tt.filter, tt.order)
				require.NoError(t, err)
				ids := make([]string, 0, len(users))
				for _, u := range users {
					ids = append(ids, u.ID)
				}
				assert.Equal(t, tt.wantIDs, ids)
			})
		}
	})

	t.Run("update & delete", func(t *testing.T) {
		staff.Name = "Office Clerk"
		staff.LastLogin = now.Add(24 * time.Hour)
		_, err := repo.UpdateOrCreateUser(ctx, staff)
		require.NoError(t, err)
		got, err := repo.GetUser(ctx, user.GetFilter{ID: staff.ID})
		require.NoError(t, err)
		assert.Equal(t, "Office Clerk", got.Name)
		assert.True(t, got.LastLogin.Equal(staff.LastLogin))

		n, err := repo.DeleteUsersByID(ctx, []string{staff.ID, inactive.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		_, err = repo.UpdateUser(ctx, staff)
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSettingsRepository(testutil.PrepareDB(t))

	_, err := repo.GetSettings(ctx)
	assert.Equal(t, settings.ErrNotFound, err)

	s := settings.Defaults(now)
	require.NoError(t, repo.SaveSettings(ctx, s))
	s.AdmissionOpen = false
	s.SessionYear = 2026
	require.NoError(t, repo.SaveSettings(ctx, s))

	got, err := repo.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, got.AdmissionOpen)
	assert.Equal(t, 2026, got.SessionYear)
	assert.Equal(t, s.Classes, got.Classes)
}

func TestSerialCounter(t *testing.T) {
	ctx := context.Background()
	sc := NewSerialCounter(testutil.PrepareDB(t))

	for want := 1; want <= 3; want++ {
		got, err := sc.Next(ctx, admission.SerialScope(2025))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := sc.Next(ctx, admission.SerialScope(2026))
	require.NoError(t, err)
	assert.Equal(t, 1, got, "each scope counts on its own")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		serials = make(map[int]bool)
	)
	scope := registration.SerialScope(registration.KindSSC, 2025)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := sc.Next(ctx, scope)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			serials[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, serials, 20, "no serial is handed out twice")

	cur, err := sc.Current(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 20, cur)

	require.NoError(t, sc.Observe(ctx, scope, 15))
	cur, _ = sc.Current(ctx, scope)
	assert.Equal(t, 20, cur, "never goes back")
	require.NoError(t, sc.Observe(ctx, scope, 30))
	require.NoError(t, sc.Observe(ctx, "reg-class-6:2025", 4))
	got, err = sc.Next(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 31, got)
	got, err = sc.Next(ctx, "reg-class-6:2025")
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func newAdmission(serial int, name, birthReg string) admission.Admission {
	return admission.Admission{
		SessionYear: 2025,
		Serial:      serial,
		Status:      admission.StatusPending,
		Class:       "6",
		Section:     "A",
		Quota:       settings.QuotaGeneral,
		Student:     applicant.Student{NameEn: name, BirthReg: birthReg, BirthDate: "2013-05-01"},
		Guardian:    applicant.Guardian{Name: "Guardian", Relation: applicant.RelationFather, Mobile: "0171100000" + string(rune('0'+serial))},
		CreatedAt:   now.Add(time.Duration(serial) * time.Minute),
		UpdatedAt:   now.Add(time.Duration(serial) * time.Minute),
	}
}

func TestAdmissionRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.PrepareDB(t)
	repo := NewAdmissionRepository(db)

	a1, err := repo.CreateAdmission(ctx, newAdmission(1, "Rahim Uddin", "20132611234567890"))
	require.NoError(t, err)
	a2, err := repo.CreateAdmission(ctx, newAdmission(2, "Karima Akter", "20132611234567891"))
	require.NoError(t, err)
	a3 := newAdmission(3, "Jamal Hossain", "20132611234567892")
	a3.Class = "9"
	a3.Quota = "staff"
	a3, err = repo.CreateAdmission(ctx, a3)
	require.NoError(t, err)

	t.Run("birth registration uniqueness", func(t *testing.T) {
		assert.Equal(t, admission.ErrBirthRegExists, repo.CheckBirthRegUniqueness(ctx, 2025, a1.Student.BirthReg, nil))
		assert.NoError(t, repo.CheckBirthRegUniqueness(ctx, 2025, a1.Student.BirthReg, []string{a1.ID}))
		assert.NoError(t, repo.CheckBirthRegUniqueness(ctx, 2026, a1.Student.BirthReg, nil))

		_, err := repo.CreateAdmission(ctx, newAdmission(9, "Rahim Again", a1.Student.BirthReg))
		assert.Equal(t, admission.ErrBirthRegExists, err)

		// a serial clash is a different failure
		_, err = repo.CreateAdmission(ctx, newAdmission(2, "Serial Clash", "20132611234567899"))
		require.Error(t, err)
		assert.NotEqual(t, admission.ErrBirthRegExists, errors.Cause(err))
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetAdmission(ctx, admission.GetFilter{ID: a2.ID})
		require.NoError(t, err)
		assert.Equal(t, "Karima Akter", got.Student.NameEn)
		assert.Equal(t, applicant.RelationFather, got.Guardian.Relation)
		assert.True(t, got.CreatedAt.Equal(a2.CreatedAt))
		assert.Nil(t, got.ReviewedAt)

		got, err = repo.GetAdmission(ctx, admission.GetFilter{SessionYear: 2025, Serial: 3})
		require.NoError(t, err)
		assert.Equal(t, a3.ID, got.ID)

		_, err = repo.GetAdmission(ctx, admission.GetFilter{SessionYear: 2024, Serial: 3})
		assert.Equal(t, admission.ErrNotFound, err)
		_, err = repo.GetAdmission(ctx, admission.GetFilter{ID: "42"})
		assert.Equal(t, admission.ErrNotFound, err)
	})

	t.Run("query", func(t *testing.T) {
		tests := []struct {
			name    string
			filter  *admission.QueryFilter
			order   []core.DBOrdering
			wantIDs []string
		}{
			{name: "all", wantIDs: []string{a1.ID, a2.ID, a3.ID}},
			{name: "ids", filter: &admission.QueryFilter{IDs: []string{a3.ID, a1.ID}}, wantIDs: []string{a1.ID, a3.ID}},
			{name: "class", filter: &admission.QueryFilter{Class: "9"}, wantIDs: []string{a3.ID}},
			{name: "quota", filter: &admission.QueryFilter{Quota: "staff"}, wantIDs: []string{a3.ID}},
			{name: "search name", filter: &admission.QueryFilter{Search: "karima"}, wantIDs: []string{a2.ID}},
			{name: "search birth reg", filter: &admission.QueryFilter{Search: "4567890"}, wantIDs: []string{a1.ID}},
			{name: "search percent is literal", filter: &admission.QueryFilter{Search: "%"}, wantIDs: []string{}},
			{name: "search underscore is literal", filter: &admission.QueryFilter{Search: "Rahim_Uddin"}, wantIDs: []string{}},
			{name: "serials", filter: &admission.QueryFilter{SerialList: []int{2, 3, 4}}, wantIDs: []string{a2.ID, a3.ID}},
			{name: "created range", filter: &admission.QueryFilter{CreatedFrom: now.Add(90 * time.Second), CreatedTo: now.Add(2 * time.Minute)}, wantIDs: []string{a2.ID}},
			{name: "other session", filter: &admission.QueryFilter{SessionYear: 2024}, wantIDs: []string{}},
			{name: "by name desc", order: []core.DBOrdering{{Field: "student_name"}}, wantIDs: []string{a1.ID, a2.ID, a3.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				adms, err := repo.QueryAdmissions(ctx, tt.filter, tt.order)
				require.NoError(t, err)
				ids := make([]string, 0, len(adms))
				for _, a := range adms {
					ids = append(ids, a.ID)
				}
				assert.Equal(t, tt.wantIDs, ids)
			})
		}
	})

	t.Run("status", func(t *testing.T) {
		at := now.Add(48 * time.Hour)
		n, err := repo.SetAdmissionStatus(ctx, []string{a1.ID, a2.ID}, admission.StatusApproved, "headmaster", at)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		adms, err := repo.QueryAdmissions(ctx, &admission.QueryFilter{Statuses: []string{"approved"}}, nil)
		require.NoError(t, err)
		require.Len(t, adms, 2)
		assert.Equal(t, admission.StatusApproved, adms[0].Status)
		assert.Equal(t, "headmaster", adms[0].ReviewedBy)
		require.NotNil(t, adms[0].ReviewedAt)
		assert.True(t, adms[0].ReviewedAt.Equal(at))
	})

	t.Run("reviewed records are not updated", func(t *testing.T) {
		stale := a1 // loaded before the approval
		stale.Student.NameEn = "Rahim Stale"
		_, err := repo.UpdateAdmission(ctx, stale)
		assert.Equal(t, admission.ErrNotEditable, err)

		got, err := repo.GetAdmission(ctx, admission.GetFilter{ID: a1.ID})
		require.NoError(t, err)
		assert.Equal(t, "Rahim Uddin", got.Student.NameEn)
		assert.Equal(t, admission.StatusApproved, got.Status)
		assert.Equal(t, "headmaster", got.ReviewedBy)
	})

	t.Run("update & delete", func(t *testing.T) {
		a3.Student.NameEn = "Jamal Hossain Khan"
		_, err := repo.UpdateAdmission(ctx, a3)
		require.NoError(t, err)
		got, err := repo.GetAdmission(ctx, admission.GetFilter{ID: a3.ID})
		require.NoError(t, err)
		assert.Equal(t, "Jamal Hossain Khan", got.Student.NameEn)

		n, err := repo.DeleteAdmissionsByID(ctx, []string{a3.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = repo.UpdateAdmission(ctx, a3)
		assert.Equal(t, admission.ErrNotFound, err)
	})
}

func TestRegistrationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRegistrationRepository(testutil.PrepareDB(t))

	newReg := func(kind registration.Kind, serial int, birthReg string) registration.Registration {
		reg := registration.Registration{
			Kind:        kind,
			SessionYear: 2025,
			Serial:      serial,
			Status:      registration.StatusPending,
			Class:       kind.Class(),
			Section:     "A",
			Roll:        "00" + string(rune('0'+serial)),
			Student:     applicant.Student{NameEn: "Student " + string(rune('A'+serial)), BirthReg: birthReg},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if kind == registration.KindSSC {
			reg.Group = "Science"
			reg.SSC = &registration.SSCInfo{JSCRoll: "123456", OptionalSubject: "Biology"}
		}
		return reg
	}

	ssc, err := repo.CreateRegistration(ctx, newReg(registration.KindSSC, 1, "20102611234567890"))
	require.NoError(t, err)
	// the same student may register for class 6 too
	c6, err := repo.CreateRegistration(ctx, newReg(registration.KindClass6, 1, "20102611234567890"))
	require.NoError(t, err)

	_, err = repo.CreateRegistration(ctx, newReg(registration.KindSSC, 2, "20102611234567890"))
	assert.Equal(t, registration.ErrBirthRegExists, err)
	assert.Equal(t, registration.ErrBirthRegExists, repo.CheckBirthRegUniqueness(ctx, registration.KindSSC, 2025, "20102611234567890", nil))
	assert.NoError(t, repo.CheckBirthRegUniqueness(ctx, registration.KindSSC, 2025, "20102611234567890", []string{ssc.ID}))

	got, err := repo.GetRegistration(ctx, registration.GetFilter{ID: ssc.ID, Kind: registration.KindSSC})
	require.NoError(t, err)
	require.NotNil(t, got.SSC)
	assert.Equal(t, "Biology", got.SSC.OptionalSubject)
	assert.Equal(t, "Science", got.Group)

	_, err = repo.GetRegistration(ctx, registration.GetFilter{ID: ssc.ID, Kind: registration.KindClass6})
	assert.Equal(t, registration.ErrNotFound, err, "kind mismatch")

	regs, err := repo.QueryRegistrations(ctx, &registration.QueryFilter{Kind: registration.KindClass6}, nil)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, c6.ID, regs[0].ID)
	assert.Nil(t, regs[0].SSC)

	regs, err = repo.QueryRegistrations(ctx, &registration.QueryFilter{Group: "science", Section: "a"}, nil)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, ssc.ID, regs[0].ID)

	n, err := repo.SetRegistrationStatus(ctx, registration.KindSSC, []string{c6.ID}, registration.StatusRejected, "office", now)
	require.NoError(t, err)
	assert.Zero(t, n, "ids of another kind are ignored")

	got, err = repo.GetRegistration(ctx, registration.GetFilter{ID: c6.ID})
	require.NoError(t, err)
	stale := got
	n, err = repo.SetRegistrationStatus(ctx, registration.KindClass6, []string{c6.ID}, registration.StatusRejected, "office", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = repo.GetRegistration(ctx, registration.GetFilter{ID: c6.ID})
	require.NoError(t, err)
	assert.Equal(t, registration.StatusRejected, got.Status)

	stale.Roll = "042"
	_, err = repo.UpdateRegistration(ctx, stale)
	assert.Equal(t, registration.ErrNotEditable, err)
	got, err = repo.GetRegistration(ctx, registration.GetFilter{ID: c6.ID})
	require.NoError(t, err)
	assert.Equal(t, registration.StatusRejected, got.Status, "the review survives a stale update")
	assert.Equal(t, "office", got.ReviewedBy)
	assert.Equal(t, "001", got.Roll)

	ssc.Roll = "042"
	ssc, err = repo.UpdateRegistration(ctx, ssc)
	require.NoError(t, err)
	regs, err = repo.QueryRegistrations(ctx, &registration.QueryFilter{Search: "042"}, nil)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, ssc.ID, regs[0].ID)

	n, err = repo.DeleteRegistrationsByID(ctx, registration.KindClass6, []string{ssc.ID, c6.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the class 6 registration goes")
	n, err = repo.DeleteRegistrationsByID(ctx, registration.KindSSC, []string{ssc.ID, c6.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
