package user

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
)

var (
	// errors
	ErrNotFound   = errors.New("user not found")
	ErrUserExists = errors.New("a user with this username or email already exists")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		ResetPassword(ctx context.Context, usr User, data ResetUserPassword) error
		Delete(ctx context.Context, ids ...string) (int, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers); err != nil {
		if errors.Cause(err) == ErrUserExists {
			return core.NewValidationError(err,
				core.FieldError{Field: "username", Error: err.Error()},
				core.FieldError{Field: "email", Error: err.Error()},
			)
		}
		return errors.Wrap(err, "checking username uniqueness")
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := NowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr.SetActive(true)
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{uname}})
}

func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	usr.Roles = uu.Roles
	if uu.IsActive != nil {
		usr.SetActive(*uu.IsActive)
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) ResetPassword(ctx context.Context, usr User, data ResetUserPassword) error {
	if err := usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err := svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}

func (svc *service) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteUsersByID(ctx, ids)
}
