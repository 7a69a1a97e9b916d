package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/user"
)

const contextObjectKey = "object"

var (
	errUsrNotFoundInCtx  = errors.New("user object not found in echo.Context")
	errNoPermsToSetRoles = "not enough rights to set these roles"
)

func (s *Server) registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc) {
	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", s.login)

	// authed endpoints
	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", s.refreshToken)
	ag.POST("", s.createUser, adminMiddleware())
	ag.GET("", s.queryUsers, adminMiddleware())
	ag.GET("/roles", s.queryRoles, adminMiddleware())

	// detail endpoints
	dg := ag.Group("/:id", s.ctxUserOrAdminMiddleware())
	dg.GET("", s.retrieveUser)
	dg.PUT("", s.updateUser)
	dg.PUT("/password", s.setUserPassword)
	dg.DELETE("", s.destroyUser, adminMiddleware())
}

// Handlers

func (s *Server) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := s.validate(&data); err != nil {
		return err
	}

	claims, err := s.auth.authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := s.auth.generateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (s *Server) refreshToken(ctx echo.Context) error {
	token, err := s.auth.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (s *Server) createUser(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(ctx.Request().Context(), s.deps.Validate, s.deps.UserSvc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	ctxUsr, err := s.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err := s.deps.UserSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (s *Server) queryUsers(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := s.deps.UserSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (s *Server) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (s *Server) retrieveUser(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) updateUser(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}

	ctxUsr, err := s.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		// `IsActive` and `Roles` can only be changed by admin
		if data.IsActive != nil || data.Roles != nil {
			return errHttpForbidden
		}
	}

	if err = data.Validate(ctx.Request().Context(), s.deps.Validate, usr, s.deps.UserSvc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errNoPermsToSetRoles})
	}

	usr, err = s.deps.UserSvc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (s *Server) setUserPassword(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(s.deps.Validate, usr); err != nil {
		return err
	}

	if err := s.deps.UserSvc.ResetPassword(ctx.Request().Context(), usr, data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (s *Server) destroyUser(ctx echo.Context) error {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	// ctxUser cannot delete themselves
	ctxUsr, err := s.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.ID == ctxUsr.ID || user.MaxRolePriority(usr.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return errHttpForbidden
	}

	if _, err := s.deps.UserSvc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *Server) ctxUserOrAdminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := s.auth.contextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			if ctx.Param("id") == ctxUsr.ID || ctxUsr.IsAdmin() {
				if usr, err := s.deps.UserSvc.GetByID(ctx.Request().Context(), ctx.Param("id")); err == nil {
					ctx.Set(contextObjectKey, usr)
					return next(ctx)
				} else if errors.Cause(err) != user.ErrNotFound {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return errHttpNotFound
		}
	}
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}
