package echoapi

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/formtoken"
	"github.com/trezcool/bhorti/core/user"
)

const (
	contextTokenKey = "userToken"
	contextUserKey  = "user"
	formTokenParam  = "token"
	audience        = "Bhorti"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	IsStaff      bool     `json:"is_staff,omitempty"`
	IsAdmin      bool     `json:"is_admin,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

type auth struct {
	conf       *core.Config
	users      user.Service
	jwtConfig  middleware.JWTConfig
	formTokens formtoken.Maker
}

func newAuth(conf *core.Config, users user.Service) *auth {
	return &auth{
		conf:  conf,
		users: users,
		jwtConfig: middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    contextTokenKey,
			Claims:        new(Claims),
		},
		formTokens: formtoken.NewMaker(conf.SecretKey, conf.Server.FormTokenExpirationDelta),
	}
}

// jwt requires a valid token.
func (a *auth) jwt() echo.MiddlewareFunc {
	return middleware.JWTWithConfig(a.jwtConfig)
}

// optionalJWT parses the token when there is one. Used by the endpoints applicants & staff share.
func (a *auth) optionalJWT() echo.MiddlewareFunc {
	cfg := a.jwtConfig
	cfg.Skipper = func(ctx echo.Context) bool {
		return !strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderAuthorization), middleware.DefaultJWTConfig.AuthScheme)
	}
	return middleware.JWTWithConfig(cfg)
}

func (a *auth) claims(usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.conf.AppName,
			Subject:   usr.ID,
			Audience:  audience,
			ExpiresAt: now.Add(a.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Email:        usr.Email,
		IsStaff:      usr.IsStaff(),
		IsAdmin:      usr.IsAdmin(),
		Roles:        usr.Roles,
	}
}

// generateToken generates a signed JWT token string representing the user Claims.
func (a *auth) generateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(a.jwtConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(a.jwtConfig.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (a *auth) authenticate(ctx context.Context, uname, pwd string) (*Claims, error) {
	usr, err := a.users.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.Active() {
		return nil, errAccountDeactivated
	}
	usr, err = a.users.SetLastLogin(ctx, usr)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return a.claims(usr), nil
}

func (a *auth) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	usr, err := a.contextUser(ctx, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.Active() {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := a.generateToken(a.claims(usr, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}

func (a *auth) contextUser(ctx echo.Context, clms ...Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, errors.Wrap(err, "getting context claims")
		}
	}

	usr, err := a.users.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

// reviewer is the name recorded on reviewed forms.
func (a *auth) reviewer(ctx echo.Context) (string, error) {
	usr, err := a.contextUser(ctx)
	if err != nil {
		return "", err
	}
	if usr.Username != "" {
		return usr.Username, nil
	}
	return usr.Name, nil
}

// formSubject is what form tokens are made for.
func formSubject(form, id string) string {
	return form + ":" + id
}

// editToken returns the token letting an applicant load & edit their own form.
func (a *auth) editToken(form, id string) string {
	return a.formTokens.Make(formSubject(form, id))
}

// photoReceipt returns the token proving its holder uploaded the photo at `path`.
func (a *auth) photoReceipt(path string) string {
	return a.formTokens.Make(formSubject(photoField, path))
}

// formAccess lets in staff members and holders of a valid edit token for the form identified by the `id` param.
// `form` names the form, e.g. "admission" or a registration kind.
func (a *auth) formAccess(form func(ctx echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if claims, err := getContextClaims(ctx); err == nil && claims.IsStaff {
				return next(ctx)
			}

			token := ctx.QueryParam(formTokenParam)
			if token == "" {
				return errUnauthorized
			}
			switch err := a.formTokens.Verify(formSubject(form(ctx), ctx.Param("id")), token); err {
			case nil:
				return next(ctx)
			case formtoken.ErrTokenExpired:
				return errFormTokenExpired
			default:
				return errHttpForbidden
			}
		}
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func contextHasAnyRole(ctx echo.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		sort.Strings(claims.Roles)
		for _, role := range roles {
			if i := sort.SearchStrings(claims.Roles, role); i < len(claims.Roles) {
				if match := claims.Roles[i]; role == match {
					return true
				}
			}
		}
	}
	return false
}
