package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/registration"
	"github.com/trezcool/bhorti/core/settings"
	"github.com/trezcool/bhorti/core/user"
	filestore "github.com/trezcool/bhorti/storage/files"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errFormTokenExpired     = echo.NewHTTPError(http.StatusForbidden, "this link has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// notFoundErrors are rendered as 404s wherever they surface.
var notFoundErrors = map[error]bool{
	admission.ErrNotFound:         true,
	admission.ErrConfirmationFail: true,
	registration.ErrNotFound:      true,
	registration.ErrUnknownKind:   true,
	user.ErrNotFound:              true,
	settings.ErrUnknownClass:      true,
	address.ErrUnknownDistrict:    true,
	filestore.ErrNotFound:         true,
	filestore.ErrInvalidPath:      true,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// Validation errors are rendered as a json object keyed by field path, e.g. {"student.birth_reg": "..."}.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = core.TranslateErrors(origErr, translator)
		case *core.ValidationError:
			code = http.StatusBadRequest
			if len(origErr.Fields) > 0 {
				message = origErr.FieldErrors()
			} else {
				message = origErr.Error()
			}
		default:
			switch {
			case notFoundErrors[cause]:
				code = http.StatusNotFound
				message = cause.Error()
			case cause == filestore.ErrUnsupportedType || cause == filestore.ErrTooLarge:
				code = http.StatusBadRequest
				message = map[string]string{photoField: cause.Error()}
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				var usr user.User
				if claims, cErr := getContextClaims(ctx); cErr == nil {
					usr.ID = claims.Subject
					usr.Username = claims.Username
					usr.Email = claims.Email
				}
				logger.Error(msg, errors.Wrap(err, msg), usr)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if m, ok := message.(string); ok {
			if ctx.Echo().Debug && code == http.StatusInternalServerError {
				m = err.Error()
			}
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
