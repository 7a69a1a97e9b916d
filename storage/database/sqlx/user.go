package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/user"
)

const userColumns = "id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login"

var userOrderings = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Username     null.String `db:"username"`
	Email        null.String `db:"email"`
	IsActive     bool        `db:"is_active"`
	Roles        string      `db:"roles"`
	PasswordHash string      `db:"password_hash"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

type userRepository struct {
	baseRepository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{baseRepository{exec: exec}}
}

func (repo userRepository) toRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.Active(),
		Roles:        strings.Join(usr.Roles, ","),
		PasswordHash: string(usr.PasswordHash),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		Roles:        []string{},
		PasswordHash: []byte(row.PasswordHash),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	usr.SetActive(row.IsActive)
	if row.Roles != "" {
		usr.Roles = strings.Split(row.Roles, ",")
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time.UTC()
	}
	return usr
}

// trapNoRowsErr maps the "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	var w where
	w.add("(username = ? OR email = ?)", null.NewString(username, username != ""), null.NewString(email, email != ""))
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		if err := w.notIn("id", ids); err != nil {
			return err
		}
	}

	var exists bool
	q := exe.Rebind("SELECT EXISTS (SELECT 1 FROM users" + w.String() + ")")
	if err := sqlx.GetContext(ctx, exe, &exists, q, w.args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if exists {
		return user.ErrUserExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	row := repo.toRow(usr)

	q := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	exe := repo.getExec(exec)
	var w where

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			w.search(filter.Search, "name", "username", "email")
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			conds := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				conds = append(conds, "(',' || roles) LIKE ?")
				w.args = append(w.args, "%,"+role+"%")
			}
			w.conds = append(w.conds, "("+strings.Join(conds, " OR ")+")")
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	q := "SELECT " + userColumns + " FROM users" + w.String() +
		orderBy(core.AllowedOrderings(ordering, userOrderings), "created_at ASC")

	var rows []userRow
	if err := sqlx.SelectContext(ctx, exe, &rows, exe.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	exe := repo.getExec(exec)
	var w where

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Username != "":
		w.add("username = ?", filter.Username)
	case filter.Email != "":
		w.add("email = ?", filter.Email)
	case len(filter.UsernameOrEmail) > 0:
		var email string
		uname := filter.UsernameOrEmail[0]
		if len(filter.UsernameOrEmail) == 2 {
			email = filter.UsernameOrEmail[1]
		}
		if email == "" {
			email = uname
		} else if uname == "" {
			uname = email
		}
		if uname == "" {
			return user.User{}, user.ErrNotFound
		}
		w.add("(username = ? OR email = ?)", uname, email)
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	q := exe.Rebind("SELECT " + userColumns + " FROM users" + w.String())
	if err := sqlx.GetContext(ctx, exe, &row, q, w.args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := repo.toRow(usr)
	q := `UPDATE users SET
		name = :name, username = :username, email = :email, is_active = :is_active, roles = :roles,
		password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exe := repo.getExec(exec)
	var w where
	if err := w.in("id", ids); err != nil {
		return 0, err
	}
	res, err := exe.ExecContext(ctx, exe.Rebind("DELETE FROM users"+w.String()), w.args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting deleted users")
}
