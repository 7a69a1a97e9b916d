package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/bhorti/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Staff: office staff reviewing the forms
	RoleStaff = "staff:"
)

var (
	AdminRoles = []string{RoleAdmin, RoleAdminOwner}
	StaffRoles = []string{RoleStaff}
	AllRoles   = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Staff: 20 - 11
		RoleStaff: 11,
	}

	Roles = []Role{
		{Name: "Staff", Value: RoleStaff},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 3)
	all = append(all, AdminRoles...)
	all = append(all, StaffRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsActive     *bool     `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetActive(active bool) {
	u.IsActive = &active
}

func (u User) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

// IsStaff reports whether the user may review the forms. Admins are staff too.
func (u *User) IsStaff() bool {
	return u.IsAdmin() || u.RoleStartsWith(RoleStaff)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Name = core.CollapseSpaces(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name     string   `json:"name" validate:"required"`
	Username string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email    string   `json:"email" validate:"omitempty,email"`
	IsActive *bool    `json:"is_active"`
	Roles    []string `json:"roles" validate:"omitempty,allroles"`
}

func (uu *UpdateUser) Validate(ctx context.Context, validate *validator.Validate, origUsr User, svc Service) error {
	uu.Name = core.CollapseSpaces(uu.Name)
	uu.Username = core.CleanString(uu.Username, true /* lower */)
	uu.Email = core.CleanString(uu.Email, true /* lower */)

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`

	// user attributes the password must not be similar to
	name, username, email string
}

func (rp *ResetUserPassword) Validate(validate *validator.Validate, usr User) error {
	rp.name, rp.username, rp.email = usr.Name, usr.Username, usr.Email
	return validate.Struct(rp)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []string `query:"role"`
	IsActive *bool    `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail []string
}
