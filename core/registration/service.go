package registration

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/settings"
)

var (
	// errors
	ErrNotFound       = errors.New("registration not found")
	ErrUnknownKind    = errors.New("unknown registration kind")
	ErrBirthRegExists = errors.New("this student is already registered for this session")
	ErrClosed         = errors.New("registration is closed")
	ErrNotEditable    = errors.New("this registration has already been reviewed and can no longer be edited")

	NowFunc = time.Now // mockable
)

const receivedTemplate = "registration_received"

// SerialScope is the SerialAllocator scope of a session's registration serials.
func SerialScope(kind Kind, session int) string {
	return fmt.Sprintf("reg-%s:%d", kind, session)
}

type (
	GetFilter struct {
		ID   string
		Kind Kind
	}

	Repository interface {
		CheckBirthRegUniqueness(ctx context.Context, kind Kind, session int, birthReg string, excludedIDs []string, exec ...core.DBExecutor) error
		CreateRegistration(ctx context.Context, reg Registration, exec ...core.DBExecutor) (Registration, error)
		GetRegistration(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Registration, error)
		// QueryRegistrations applies AND operation on available QueryFilter fields.
		QueryRegistrations(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Registration, error)
		UpdateRegistration(ctx context.Context, reg Registration, exec ...core.DBExecutor) (Registration, error)
		SetRegistrationStatus(ctx context.Context, kind Kind, ids []string, status Status, reviewer string, at time.Time, exec ...core.DBExecutor) (int, error)
		DeleteRegistrationsByID(ctx context.Context, kind Kind, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		Settings(ctx context.Context) (settings.Settings, error)
		CheckUniqueness(ctx context.Context, kind Kind, session int, birthReg string, excl ...Registration) error
		Create(ctx context.Context, nr NewRegistration) (Registration, error)
		Get(ctx context.Context, kind Kind, id string) (Registration, error)
		Update(ctx context.Context, reg Registration, nr NewRegistration) (Registration, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Registration, error)
		SetStatus(ctx context.Context, kind Kind, su StatusUpdate, reviewer string) ([]Registration, error)
		Delete(ctx context.Context, kind Kind, ids ...string) (int, error)
	}

	service struct {
		db          core.DB
		repo        Repository
		serials     core.SerialAllocator
		settingsSvc settings.Service
		mailSvc     core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(
	db core.DB,
	repo Repository,
	serials core.SerialAllocator,
	settingsSvc settings.Service,
	mailSvc core.EmailService,
) Service {
	return &service{
		db:          db,
		repo:        repo,
		serials:     serials,
		settingsSvc: settingsSvc,
		mailSvc:     mailSvc,
	}
}

func (svc *service) Settings(ctx context.Context) (settings.Settings, error) {
	s, err := svc.settingsSvc.Get(ctx)
	return s, errors.Wrap(err, "getting settings")
}

func (svc *service) CheckUniqueness(ctx context.Context, kind Kind, session int, birthReg string, excl ...Registration) error {
	ids := make([]string, 0, len(excl))
	for _, r := range excl {
		ids = append(ids, r.ID)
	}
	if err := svc.repo.CheckBirthRegUniqueness(ctx, kind, session, birthReg, ids); err != nil {
		return storeError(err, "checking birth registration uniqueness")
	}
	return nil
}

// storeError turns the repository errors applicants can cause into validation errors.
func storeError(err error, msg string) error {
	switch errors.Cause(err) {
	case ErrBirthRegExists:
		return core.NewValidationError(err, core.FieldError{Field: "student.birth_reg", Error: ErrBirthRegExists.Error()})
	case ErrNotEditable:
		return core.NewValidationError(ErrNotEditable)
	}
	return errors.Wrap(err, msg)
}

func (svc *service) Create(ctx context.Context, nr NewRegistration) (Registration, error) {
	s, err := svc.Settings(ctx)
	if err != nil {
		return Registration{}, err
	}

	serial, err := svc.serials.Next(ctx, SerialScope(nr.Kind, s.SessionYear))
	if err != nil {
		return Registration{}, errors.Wrap(err, "allocating serial")
	}

	now := NowFunc().UTC()
	reg := Registration{
		Kind:        nr.Kind,
		SessionYear: s.SessionYear,
		Serial:      serial,
		Status:      StatusPending,
		Class:       nr.Kind.Class(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	reg.setForm(nr)

	reg, err = svc.repo.CreateRegistration(ctx, reg)
	if err != nil {
		return Registration{}, storeError(err, "creating registration")
	}

	if reg.Student.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: reg.Student.NameEn, Address: reg.Student.Email}},
			Subject:      "Registration received - " + reg.RegistrationNo(),
			TemplateName: receivedTemplate,
			TemplateData: reg,
		})
	}
	return reg, nil
}

func (svc *service) Get(ctx context.Context, kind Kind, id string) (Registration, error) {
	return svc.repo.GetRegistration(ctx, GetFilter{ID: id, Kind: kind})
}

func (svc *service) Update(ctx context.Context, reg Registration, nr NewRegistration) (Registration, error) {
	if !reg.IsEditable() {
		return Registration{}, core.NewValidationError(ErrNotEditable)
	}
	nr.Kind = reg.Kind
	reg.setForm(nr)
	reg.UpdatedAt = NowFunc().UTC()
	reg, err := svc.repo.UpdateRegistration(ctx, reg)
	if err != nil {
		return Registration{}, storeError(err, "updating registration")
	}
	return reg, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Registration, error) {
	return svc.repo.QueryRegistrations(ctx, filter, core.AllowedOrderings(ordering, Orderings))
}

func (svc *service) SetStatus(ctx context.Context, kind Kind, su StatusUpdate, reviewer string) (regs []Registration, err error) {
	var filter *QueryFilter
	if su.Serials != "" {
		if su.SessionYear == 0 {
			s, err := svc.Settings(ctx)
			if err != nil {
				return nil, err
			}
			su.SessionYear = s.SessionYear
		}
		filter = &QueryFilter{Kind: kind, SessionYear: su.SessionYear, Serials: su.Serials}
		if err = filter.Clean(); err != nil {
			return nil, err
		}
	}

	tx, err := svc.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ids := append([]string(nil), su.IDs...)
	if filter != nil {
		var matched []Registration
		if matched, err = svc.repo.QueryRegistrations(ctx, filter, nil, tx); err != nil {
			return nil, errors.Wrap(err, "querying registrations by serials")
		}
		for _, r := range matched {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return []Registration{}, tx.Commit()
	}

	if _, err = svc.repo.SetRegistrationStatus(ctx, kind, ids, su.Status, reviewer, NowFunc().UTC(), tx); err != nil {
		return nil, errors.Wrap(err, "setting registration status")
	}
	filter = &QueryFilter{Kind: kind, IDs: ids}
	if regs, err = svc.repo.QueryRegistrations(ctx, filter, []core.DBOrdering{{Field: "serial", Ascending: true}}, tx); err != nil {
		return nil, errors.Wrap(err, "querying updated registrations")
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}
	return regs, nil
}

func (svc *service) Delete(ctx context.Context, kind Kind, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteRegistrationsByID(ctx, kind, ids)
}

func (reg *Registration) setForm(nr NewRegistration) {
	reg.Group = nr.Group
	reg.Section = nr.Section
	reg.Shift = nr.Shift
	reg.Version = nr.Version
	reg.Roll = nr.Roll
	reg.Student = nr.Student
	reg.Father = nr.Father
	reg.Mother = nr.Mother
	reg.GuardianIsNotFather = nr.GuardianIsNotFather
	reg.Guardian = nr.Guardian
	reg.PresentAddress = nr.PresentAddress
	reg.SameAddress = nr.SameAddress
	reg.PermanentAddress = nr.PermanentAddress
	reg.PreviousSchool = nr.PreviousSchool
	reg.SSC = nr.SSC
}
