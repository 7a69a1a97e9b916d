package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/settings"
)

// SettingsResponse is everything the form pages build their dropdowns from.
type SettingsResponse struct {
	settings.Settings
	Genders     []string `json:"genders"`
	Religions   []string `json:"religions"`
	BloodGroups []string `json:"blood_groups"`
}

func (s *Server) registerSettingsAPI(g *echo.Group, jwt echo.MiddlewareFunc) {
	sg := g.Group("/settings")
	sg.GET("", s.getSettings)
	sg.GET("/classes/:class", s.getClassOptions)
	sg.PUT("", s.updateSettings, jwt, adminMiddleware())
}

func (s *Server) registerAddressAPI(g *echo.Group) {
	ag := g.Group("/address")
	ag.GET("/districts", s.listDistricts)
	ag.GET("/districts/:district/upazilas", s.listUpazilas)
}

func newSettingsResponse(st settings.Settings) SettingsResponse {
	return SettingsResponse{
		Settings:    st,
		Genders:     core.Genders,
		Religions:   core.Religions,
		BloodGroups: core.BloodGroups,
	}
}

func (s *Server) getSettings(ctx echo.Context) error {
	st, err := s.deps.SettingsSvc.Get(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting settings")
	}
	return ctx.JSON(http.StatusOK, newSettingsResponse(st))
}

func (s *Server) getClassOptions(ctx echo.Context) error {
	opts, err := s.deps.SettingsSvc.Options(ctx.Request().Context(), ctx.Param("class"))
	if err != nil {
		return errors.Wrap(err, "getting class options")
	}
	return ctx.JSON(http.StatusOK, opts)
}

func (s *Server) updateSettings(ctx echo.Context) error {
	var data settings.UpdateSettings
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSettings")
	}
	if err := s.validate(&data); err != nil {
		return err
	}

	st, err := s.deps.SettingsSvc.Update(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "updating settings")
	}
	s.deps.Logger.Info("settings updated", map[string]interface{}{"session_year": st.SessionYear})
	return ctx.JSON(http.StatusOK, newSettingsResponse(st))
}

func (s *Server) listDistricts(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, address.Districts())
}

func (s *Server) listUpazilas(ctx echo.Context) error {
	upazilas, err := address.Upazilas(ctx.Param("district"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, upazilas)
}
