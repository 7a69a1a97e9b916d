package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/settings"
	exportsvc "github.com/trezcool/bhorti/services/export"
)

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var errAdmNotFoundInCtx = errors.New("admission object not found in echo.Context")

type (
	// AdmissionResponse is the admission with its confirmation. The edit link is only handed out on submission.
	AdmissionResponse struct {
		admission.Admission
		Confirmation admission.Confirmation `json:"confirmation"`
		EditToken    string                 `json:"edit_token,omitempty"`
		EditURL      string                 `json:"edit_url,omitempty"`
	}

	admissionPayload struct {
		admission.NewAdmission
		PhotoClaim
	}

	ConfirmRequest struct {
		SessionYear int    `query:"session"`
		Serial      int    `query:"serial"`
		BirthReg    string `query:"birth_reg"`
	}

	StatusResponse struct {
		Updated int         `json:"updated"`
		Items   interface{} `json:"items"`
	}
)

func (s *Server) registerAdmissionAPI(g *echo.Group, jwt echo.MiddlewareFunc) {
	ag := g.Group("/admission")

	// applicant endpoints
	ag.POST("", s.createAdmission)
	ag.GET("/confirm", s.confirmAdmission)

	form := func(echo.Context) string { return settings.FormAdmission }
	fg := ag.Group("/form/:id", s.auth.optionalJWT(), s.auth.formAccess(form), s.admissionMiddleware())
	fg.GET("", s.retrieveAdmission)
	fg.PUT("", s.updateAdmission)
	fg.GET("/pdf", s.admissionPDF)

	// staff endpoints; not a sub-group as its catch-all routes would shadow POST ""
	staff := []echo.MiddlewareFunc{jwt, staffMiddleware()}
	admin := []echo.MiddlewareFunc{jwt, adminMiddleware()}
	ag.GET("", s.queryAdmissions, staff...)
	ag.GET("/export", s.exportAdmissions, staff...)
	ag.POST("/status", s.setAdmissionStatus, admin...)
	ag.DELETE("/:id", s.destroyAdmission, admin...)
}

// Handlers

func (s *Server) createAdmission(ctx echo.Context) error {
	var data admissionPayload
	newPhoto := ""
	if err := s.bindForm(ctx, &data, func(path string) { data.Student.Photo, newPhoto = path, path }); err != nil {
		return err
	}

	c := ctx.Request().Context()
	if err := data.Validate(c, s.deps.Validate, s.deps.AdmissionSvc); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}
	if err := s.checkPhoto(data.Student.Photo, newPhoto, "", data.PhotoClaim); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}

	adm, err := s.deps.AdmissionSvc.Create(c, data.NewAdmission)
	if err != nil {
		s.discardPhoto(ctx, newPhoto)
		return errors.Wrap(err, "creating admission")
	}
	resp, err := s.admissionResponse(ctx, adm)
	if err != nil {
		return err
	}
	resp.EditToken = s.auth.editToken(settings.FormAdmission, adm.ID)
	resp.EditURL = s.editURL("admission/form", adm.ID, resp.EditToken)
	return ctx.JSON(http.StatusCreated, resp)
}

func (s *Server) retrieveAdmission(ctx echo.Context) error {
	adm, ok := ctx.Get(contextObjectKey).(admission.Admission)
	if !ok {
		return errors.Wrap(errAdmNotFoundInCtx, "retrieving object from context")
	}
	resp, err := s.admissionResponse(ctx, adm)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (s *Server) updateAdmission(ctx echo.Context) error {
	adm, ok := ctx.Get(contextObjectKey).(admission.Admission)
	if !ok {
		return errors.Wrap(errAdmNotFoundInCtx, "retrieving object from context")
	}
	if !adm.IsEditable() {
		return core.NewValidationError(admission.ErrNotEditable)
	}

	data := admissionPayload{}
	data.Student.Photo = adm.Student.Photo
	newPhoto := ""
	if err := s.bindForm(ctx, &data, func(path string) { data.Student.Photo, newPhoto = path, path }); err != nil {
		return err
	}

	c := ctx.Request().Context()
	if err := data.Validate(c, s.deps.Validate, s.deps.AdmissionSvc, adm); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}
	if err := s.checkPhoto(data.Student.Photo, newPhoto, adm.Student.Photo, data.PhotoClaim); err != nil {
		s.discardPhoto(ctx, newPhoto)
		return err
	}

	oldPhoto := adm.Student.Photo
	adm, err := s.deps.AdmissionSvc.Update(c, adm, data.NewAdmission)
	if err != nil {
		s.discardPhoto(ctx, newPhoto)
		return errors.Wrap(err, "updating admission")
	}
	if oldPhoto != adm.Student.Photo {
		s.discardPhoto(ctx, oldPhoto)
	}

	resp, err := s.admissionResponse(ctx, adm)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (s *Server) admissionPDF(ctx echo.Context) error {
	adm, ok := ctx.Get(contextObjectKey).(admission.Admission)
	if !ok {
		return errors.Wrap(errAdmNotFoundInCtx, "retrieving object from context")
	}
	st, err := s.deps.AdmissionSvc.Settings(ctx.Request().Context())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = s.deps.Slips.AdmissionSlip(ctx.Request().Context(), &buf, adm.Confirmation(st)); err != nil {
		return errors.Wrap(err, "rendering admission slip")
	}
	return attachment(ctx, mimePDF, adm.ApplicationNo()+".pdf", buf.Bytes(), true)
}

func (s *Server) confirmAdmission(ctx echo.Context) error {
	var data ConfirmRequest
	if err := ctx.Bind(&data); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "serial", Error: "must be a number"})
	}

	var fields []core.FieldError
	if data.Serial <= 0 {
		fields = append(fields, core.FieldError{Field: "serial", Error: "this field is required"})
	}
	if core.CleanString(data.BirthReg) == "" {
		fields = append(fields, core.FieldError{Field: "birth_reg", Error: "this field is required"})
	}
	if len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}

	conf, err := s.deps.AdmissionSvc.Confirm(ctx.Request().Context(), data.SessionYear, data.Serial, data.BirthReg)
	if err != nil {
		return errors.Wrap(err, "confirming admission")
	}
	return ctx.JSON(http.StatusOK, conf)
}

func (s *Server) queryAdmissions(ctx echo.Context) error {
	adms, err := s.filterAdmissions(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, adms)
}

func (s *Server) exportAdmissions(ctx echo.Context) error {
	adms, err := s.filterAdmissions(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = exportsvc.WriteAdmissions(&buf, adms); err != nil {
		return errors.Wrap(err, "exporting admissions")
	}
	filename := fmt.Sprintf("admissions-%s.xlsx", time.Now().Format(dateFmt))
	return attachment(ctx, mimeXLSX, filename, buf.Bytes(), false)
}

func (s *Server) setAdmissionStatus(ctx echo.Context) error {
	var data admission.StatusUpdate
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
	adms, err := s.deps.AdmissionSvc.SetStatus(ctx.Request().Context(), data, reviewer)
	if err != nil {
		return errors.Wrap(err, "setting admission status")
	}
	s.deps.Logger.Info("admission status set", map[string]interface{}{
		"status":  data.Status,
		"serials": data.Serials,
		"count":   len(adms),
	}, ctx.Get(contextUserKey))
	return ctx.JSON(http.StatusOK, StatusResponse{Updated: len(adms), Items: adms})
}

func (s *Server) destroyAdmission(ctx echo.Context) error {
	c := ctx.Request().Context()
	adm, err := s.deps.AdmissionSvc.Get(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding admission")
	}
	if _, err = s.deps.AdmissionSvc.Delete(c, adm.ID); err != nil {
		return errors.Wrap(err, "deleting admission")
	}
	s.discardPhoto(ctx, adm.Student.Photo)
	return ctx.NoContent(http.StatusNoContent)
}

// Helpers

func (s *Server) admissionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			adm, err := s.deps.AdmissionSvc.Get(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				return errors.Wrap(err, "finding admission by ID")
			}
			ctx.Set(contextObjectKey, adm)
			return next(ctx)
		}
	}
}

func (s *Server) admissionResponse(ctx echo.Context, adm admission.Admission) (AdmissionResponse, error) {
	st, err := s.deps.AdmissionSvc.Settings(ctx.Request().Context())
	if err != nil {
		return AdmissionResponse{}, err
	}
	return AdmissionResponse{Admission: adm, Confirmation: adm.Confirmation(st)}, nil
}

func (s *Server) filterAdmissions(ctx echo.Context) ([]admission.Admission, error) {
	filter := new(admission.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, core.NewValidationError(err)
	}
	if err := bindDateRange(ctx, &filter.CreatedFrom, &filter.CreatedTo); err != nil {
		return nil, err
	}
	if err := filter.Clean(); err != nil {
		return nil, err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	adms, err := s.deps.AdmissionSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return nil, errors.Wrap(err, "querying admissions")
	}
	if adms == nil {
		adms = []admission.Admission{}
	}
	return adms, nil
}

// discardPhoto removes a stored photo that is no longer referenced. Failures are only logged.
func (s *Server) discardPhoto(ctx echo.Context, path string) {
	if path == "" || s.deps.Files == nil {
		return
	}
	if err := s.deps.Files.Delete(ctx.Request().Context(), path); err != nil {
		s.deps.Logger.Warn("discarding photo", map[string]interface{}{"photo": path}, err)
	}
}

// editURL is the frontend link applicants use to get back to their form.
func (s *Server) editURL(page, id, token string) string {
	return fmt.Sprintf("%s/%s/%s?%s=%s", s.deps.Conf.FrontendBaseURL, page, id, formTokenParam, url.QueryEscape(token))
}

func attachment(ctx echo.Context, contentType, filename string, data []byte, inline bool) error {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, disposition+"; filename="+strconv.Quote(filename))
	return ctx.Blob(http.StatusOK, contentType, data)
}
