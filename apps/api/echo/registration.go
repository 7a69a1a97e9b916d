package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/registration"
	exportsvc "github.com/trezcool/bhorti/services/export"
)

const contextKindKey = "kind"

var errRegNotFoundInCtx = errors.New("registration object not found in echo.Context")

// RegistrationResponse is the registration with its edit link, handed out on submission only.
type RegistrationResponse struct {
	registration.Registration
	RegistrationNo string `json:"registration_no"`
	EditToken      string `json:"edit_token,omitempty"`
	EditURL        string `json:"edit_url,omitempty"`
}

type registrationPayload struct {
	registration.NewRegistration
	PhotoClaim
}

func (s *Server) registerRegistrationAPI(g *echo.Group, jwt echo.MiddlewareFunc) {
	rg := g.Group("/reg/:kind", s.kindMiddleware())

	// student endpoints
	rg.POST("", s.createRegistration)

	form := func(ctx echo.Context) string { return string(contextKind(ctx)) }
	fg := rg.Group("/:id", s.auth.optionalJWT(), s.auth.formAccess(form), s.registrationMiddleware())
	fg.GET("", s.retrieveRegistration)
	fg.PUT("", s.updateRegistration)
	fg.GET("/pdf", s.registrationPDF)

	// staff endpoints
	staff := []echo.MiddlewareFunc{jwt, staffMiddleware()}
	admin := []echo.MiddlewareFunc{jwt, adminMiddleware()}
	rg.GET("", s.queryRegistrations, staff...)
	rg.GET("/export", s.exportRegistrations, staff...)
	rg.POST("/status", s.setRegistrationStatus, admin...)
	rg.DELETE("/:id", s.destroyRegistration, admin...)
}

// Handlers

func (s *Server) createRegistration(ctx echo.Context) error {
	kind := contextKind(ctx)
	data := registrationPayload{NewRegistration: registration.NewRegistration{Kind: kind}}
	newPhoto := ""
	if err := s.bindForm(ctx, &data, func(path string) { data.Student.Photo, newPhoto = path, path }); err != nil {
		return err
	}
	data.Kind = kind

	c := ctx.Request().Context()
	if err := data.Validate(c, s.deps.Validate, s.deps.RegistrationSvc); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}
	if err := s.checkPhoto(data.Student.Photo, newPhoto, "", data.PhotoClaim); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}

	reg, err := s.deps.RegistrationSvc.Create(c, data.NewRegistration)
	if err != nil {
		s.discardPhoto(ctx, newPhoto)
		return errors.Wrap(err, "creating registration")
	}
	resp := newRegistrationResponse(reg)
	resp.EditToken = s.auth.editToken(string(kind), reg.ID)
	resp.EditURL = s.editURL("reg/"+string(kind), reg.ID, resp.EditToken)
	return ctx.JSON(http.StatusCreated, resp)
}

func (s *Server) retrieveRegistration(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errRegNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, newRegistrationResponse(reg))
}

func (s *Server) updateRegistration(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errRegNotFoundInCtx, "retrieving object from context")
	}
	if !reg.IsEditable() {
		return core.NewValidationError(registration.ErrNotEditable)
	}

	data := registrationPayload{}
	data.Student.Photo = reg.Student.Photo
	newPhoto := ""
	if err := s.bindForm(ctx, &data, func(path string) { data.Student.Photo, newPhoto = path, path }); err != nil {
		return err
	}
	data.Kind = reg.Kind

	c := ctx.Request().Context()
	if err := data.Validate(c, s.deps.Validate, s.deps.RegistrationSvc, reg); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}
	if err := s.checkPhoto(data.Student.Photo, newPhoto, reg.Student.Photo, data.PhotoClaim); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}

	oldPhoto := reg.Student.Photo
	reg, err := s.deps.RegistrationSvc.Update(c, reg, data.NewRegistration)
	if err != nil {
		s.discardPhoto(ctx, newPhoto)
		return errors.Wrap(err, "updating registration")
	}
	if oldPhoto != reg.Student.Photo {
		s.discardPhoto(ctx, oldPhoto)
	}
	return ctx.JSON(http.StatusOK, newRegistrationResponse(reg))
}

func (s *Server) registrationPDF(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errRegNotFoundInCtx, "retrieving object from context")
	}

	var buf bytes.Buffer
	if err := s.deps.Slips.RegistrationSlip(ctx.Request().Context(), &buf, reg); err != nil {
		return errors.Wrap(err, "rendering registration slip")
	}
	return attachment(ctx, mimePDF, reg.RegistrationNo()+".pdf", buf.Bytes(), true)
}

func (s *Server) queryRegistrations(ctx echo.Context) error {
	regs, err := s.filterRegistrations(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (s *Server) exportRegistrations(ctx echo.Context) error {
	regs, err := s.filterRegistrations(ctx)
	if err != nil {
		return err
	}

	kind := contextKind(ctx)
	var buf bytes.Buffer
	if err = exportsvc.WriteRegistrations(&buf, kind, regs); err != nil {
		return errors.Wrap(err, "exporting registrations")
	}
	filename := fmt.Sprintf("registrations-%s-%s.xlsx", kind, time.Now().Format(dateFmt))
	return attachment(ctx, mimeXLSX, filename, buf.Bytes(), false)
}

func (s *Server) setRegistrationStatus(ctx echo.Context) error {
	var data registration.StatusUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusUpdate")
	}
	if err := s.validate(&data); err != nil {
		return err
	}

	reviewer, err := s.auth.reviewer(ctx)
	if err != nil {
		return errors.Wrap(err, "getting reviewer")
	}
	kind := contextKind(ctx)
	regs, err := s.deps.RegistrationSvc.SetStatus(ctx.Request().Context(), kind, data, reviewer)
	if err != nil {
		return errors.Wrap(err, "setting registration status")
	}
	s.deps.Logger.Info("registration status set", map[string]interface{}{
		"kind":    kind,
		"status":  data.Status,
		"serials": data.Serials,
		"count":   len(regs),
	}, ctx.Get(contextUserKey))
	return ctx.JSON(http.StatusOK, StatusResponse{Updated: len(regs), Items: regs})
}

func (s *Server) destroyRegistration(ctx echo.Context) error {
	c := ctx.Request().Context()
	reg, err := s.deps.RegistrationSvc.Get(c, contextKind(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding registration")
	}
	if _, err = s.deps.RegistrationSvc.Delete(c, reg.Kind, reg.ID); err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	s.discardPhoto(ctx, reg.Student.Photo)
	return ctx.NoContent(http.StatusNoContent)
}

// Helpers

// kindMiddleware resolves the `kind` param ("ssc", "class-6").
func (s *Server) kindMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			kind, err := registration.ParseKind(ctx.Param("kind"))
			if err != nil {
				return err
			}
			ctx.Set(contextKindKey, kind)
			return next(ctx)
		}
	}
}

func (s *Server) registrationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			reg, err := s.deps.RegistrationSvc.Get(ctx.Request().Context(), contextKind(ctx), ctx.Param("id"))
			if err != nil {
				return errors.Wrap(err, "finding registration by ID")
			}
			ctx.Set(contextObjectKey, reg)
			return next(ctx)
		}
	}
}

func contextKind(ctx echo.Context) registration.Kind {
	kind, _ := ctx.Get(contextKindKey).(registration.Kind)
	return kind
}

func newRegistrationResponse(reg registration.Registration) RegistrationResponse {
	return RegistrationResponse{Registration: reg, RegistrationNo: reg.RegistrationNo()}
}

func (s *Server) filterRegistrations(ctx echo.Context) ([]registration.Registration, error) {
	filter := new(registration.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, core.NewValidationError(err)
	}
	filter.Kind = contextKind(ctx)
	if err := bindDateRange(ctx, &filter.CreatedFrom, &filter.CreatedTo); err != nil {
		return nil, err
	}
	if err := filter.Clean(); err != nil {
		return nil, err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	regs, err := s.deps.RegistrationSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	if regs == nil {
		regs = []registration.Registration{}
	}
	return regs, nil
}
