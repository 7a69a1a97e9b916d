package admission

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/formutil"
	"github.com/trezcool/bhorti/core/settings"
)

var (
	// errors
	ErrNotFound         = errors.New("admission not found")
	ErrBirthRegExists   = errors.New("an application with this birth registration number already exists for this session")
	ErrClosed           = errors.New("admission is closed")
	ErrNotEditable      = errors.New("this application has already been reviewed and can no longer be edited")
	ErrConfirmationFail = errors.New("no application matches this serial and birth registration number")

	NowFunc = time.Now // mockable
)

const (
	receivedTemplate = "admission_received"
	approvedTemplate = "admission_approved"
)

// SerialScope is the SerialAllocator scope of a session's admission serials.
func SerialScope(session int) string {
	return fmt.Sprintf("admission:%d", session)
}

type (
	GetFilter struct {
		ID          string
		SessionYear int
		Serial      int
	}

	Repository interface {
		CheckBirthRegUniqueness(ctx context.Context, session int, birthReg string, excludedIDs []string, exec ...core.DBExecutor) error
		CreateAdmission(ctx context.Context, adm Admission, exec ...core.DBExecutor) (Admission, error)
		GetAdmission(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Admission, error)
		// QueryAdmissions applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on the student name, birth registration or guardian mobile.
		QueryAdmissions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Admission, error)
		UpdateAdmission(ctx context.Context, adm Admission, exec ...core.DBExecutor) (Admission, error)
		SetAdmissionStatus(ctx context.Context, ids []string, status Status, reviewer string, at time.Time, exec ...core.DBExecutor) (int, error)
		DeleteAdmissionsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		Settings(ctx context.Context) (settings.Settings, error)
		CheckUniqueness(ctx context.Context, session int, birthReg string, excl ...Admission) error
		Create(ctx context.Context, na NewAdmission) (Admission, error)
		Get(ctx context.Context, id string) (Admission, error)
		Update(ctx context.Context, adm Admission, na NewAdmission) (Admission, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Admission, error)
		SetStatus(ctx context.Context, su StatusUpdate, reviewer string) ([]Admission, error)
		ApproveSerials(ctx context.Context, session int, ranges, reviewer string) ([]Admission, error)
		Delete(ctx context.Context, ids ...string) (int, error)
		Confirm(ctx context.Context, session, serial int, birthReg string) (Confirmation, error)
	}

	service struct {
		db          core.DB
		repo        Repository
		serials     core.SerialAllocator
		settingsSvc settings.Service
		mailSvc     core.EmailService
		logger      core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	db core.DB,
	repo Repository,
	serials core.SerialAllocator,
	settingsSvc settings.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		db:          db,
		repo:        repo,
		serials:     serials,
		settingsSvc: settingsSvc,
		mailSvc:     mailSvc,
		logger:      logger,
	}
}

func (svc *service) Settings(ctx context.Context) (settings.Settings, error) {
	s, err := svc.settingsSvc.Get(ctx)
	return s, errors.Wrap(err, "getting settings")
}

func (svc *service) CheckUniqueness(ctx context.Context, session int, birthReg string, excl ...Admission) error {
	ids := make([]string, 0, len(excl))
	for _, a := range excl {
		ids = append(ids, a.ID)
	}
	if err := svc.repo.CheckBirthRegUniqueness(ctx, session, birthReg, ids); err != nil {
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

func (svc *service) Create(ctx context.Context, na NewAdmission) (Admission, error) {
	s, err := svc.Settings(ctx)
	if err != nil {
		return Admission{}, err
	}

	serial, err := svc.serials.Next(ctx, SerialScope(s.SessionYear))
	if err != nil {
		return Admission{}, errors.Wrap(err, "allocating serial")
	}

	now := NowFunc().UTC()
	adm := Admission{
		SessionYear: s.SessionYear,
		Serial:      serial,
		Status:      StatusPending,
		Fee:         s.AdmissionFee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	adm.setForm(na)

	adm, err = svc.repo.CreateAdmission(ctx, adm)
	if err != nil {
		return Admission{}, storeError(err, "creating admission")
	}

	if msg := svc.newMessage(adm, receivedTemplate, "Application received", s); msg != nil {
		svc.mailSvc.SendMessages(msg)
	}
	return adm, nil
}

func (svc *service) Get(ctx context.Context, id string) (Admission, error) {
	return svc.repo.GetAdmission(ctx, GetFilter{ID: id})
}

func (svc *service) Update(ctx context.Context, adm Admission, na NewAdmission) (Admission, error) {
	if !adm.IsEditable() {
		return Admission{}, core.NewValidationError(ErrNotEditable)
	}
	adm.setForm(na)
	adm.UpdatedAt = NowFunc().UTC()
	adm, err := svc.repo.UpdateAdmission(ctx, adm)
	if err != nil {
		return Admission{}, storeError(err, "updating admission")
	}
	return adm, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Admission, error) {
	return svc.repo.QueryAdmissions(ctx, filter, core.AllowedOrderings(ordering, Orderings))
}

func (svc *service) SetStatus(ctx context.Context, su StatusUpdate, reviewer string) (adms []Admission, err error) {
	var filter *QueryFilter
	if su.Serials != "" {
		if su.SessionYear == 0 {
			s, err := svc.Settings(ctx)
			if err != nil {
				return nil, err
			}
			su.SessionYear = s.SessionYear
		}
		filter = &QueryFilter{SessionYear: su.SessionYear, Serials: su.Serials}
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
		var matched []Admission
		if matched, err = svc.repo.QueryAdmissions(ctx, filter, nil, tx); err != nil {
			return nil, errors.Wrap(err, "querying admissions by serials")
		}
		for _, a := range matched {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return []Admission{}, tx.Commit()
	}

	now := NowFunc().UTC()
	if _, err = svc.repo.SetAdmissionStatus(ctx, ids, su.Status, reviewer, now, tx); err != nil {
		return nil, errors.Wrap(err, "setting admission status")
	}
	if adms, err = svc.repo.QueryAdmissions(ctx, &QueryFilter{IDs: ids}, []core.DBOrdering{{Field: "serial", Ascending: true}}, tx); err != nil {
		return nil, errors.Wrap(err, "querying updated admissions")
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}

	if su.Status == StatusApproved {
		svc.notifyApproved(ctx, adms)
	}
	return adms, nil
}

func (svc *service) ApproveSerials(ctx context.Context, session int, ranges, reviewer string) ([]Admission, error) {
	if _, err := formutil.ExpandRange(ranges); err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: "serials", Error: err.Error()})
	}
	return svc.SetStatus(ctx, StatusUpdate{SessionYear: session, Serials: ranges, Status: StatusApproved}, reviewer)
}

func (svc *service) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteAdmissionsByID(ctx, ids)
}

func (svc *service) Confirm(ctx context.Context, session, serial int, birthReg string) (Confirmation, error) {
	s, err := svc.Settings(ctx)
	if err != nil {
		return Confirmation{}, err
	}
	if session == 0 {
		session = s.SessionYear
	}

	adm, err := svc.repo.GetAdmission(ctx, GetFilter{SessionYear: session, Serial: serial})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Confirmation{}, ErrConfirmationFail
		}
		return Confirmation{}, errors.Wrap(err, "finding admission by serial")
	}
	if adm.Student.BirthReg != formutil.CleanDigits(birthReg) {
		return Confirmation{}, ErrConfirmationFail
	}
	return adm.Confirmation(s), nil
}

func (svc *service) notifyApproved(ctx context.Context, adms []Admission) {
	s, err := svc.Settings(ctx)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending approval emails: %v", err), err)
		return
	}
	msgs := make([]*core.EmailMessage, 0, len(adms))
	for _, adm := range adms {
		if msg := svc.newMessage(adm, approvedTemplate, "Application approved", s); msg != nil {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
}

// newMessage returns nil when the applicant left no email address.
func (svc *service) newMessage(adm Admission, tmpl, subject string, s settings.Settings) *core.EmailMessage {
	if adm.Student.Email == "" {
		return nil
	}
	return &core.EmailMessage{
		To:           []mail.Address{{Name: adm.Student.NameEn, Address: adm.Student.Email}},
		Subject:      subject + " - " + adm.ApplicationNo(),
		TemplateName: tmpl,
		TemplateData: adm.Confirmation(s),
	}
}

func (adm *Admission) setForm(na NewAdmission) {
	adm.Class = na.Class
	adm.Group = na.Group
	adm.Section = na.Section
	adm.Shift = na.Shift
	adm.Version = na.Version
	adm.Quota = na.Quota
	adm.Student = na.Student
	adm.Father = na.Father
	adm.Mother = na.Mother
	adm.GuardianIsNotFather = na.GuardianIsNotFather
	adm.Guardian = na.Guardian
	adm.PresentAddress = na.PresentAddress
	adm.SameAddress = na.SameAddress
	adm.PermanentAddress = na.PermanentAddress
	adm.PreviousSchool = na.PreviousSchool
}
