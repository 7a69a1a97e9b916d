package settings

import (
	"context"
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
)

var (
	// errors
	ErrNotFound     = errors.New("settings not found")
	ErrUnknownClass = errors.New("unknown class")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		GetSettings(ctx context.Context, exec ...core.DBExecutor) (Settings, error)
		SaveSettings(ctx context.Context, s Settings, exec ...core.DBExecutor) error
	}

	// Cache keeps the settings close to the API; every form page reads them.
	Cache interface {
		GetSettings(ctx context.Context) (Settings, bool, error)
		SetSettings(ctx context.Context, s Settings) error
	}

	Service interface {
		Get(ctx context.Context) (Settings, error)
		Options(ctx context.Context, class string) (ClassOptions, error)
		Update(ctx context.Context, us UpdateSettings) (Settings, error)
	}

	service struct {
		repo   Repository
		cache  Cache
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

// NewService returns the settings Service. `cache` may be nil.
func NewService(repo Repository, cache Cache, logger core.Logger) Service {
	return &service{repo: repo, cache: cache, logger: logger}
}

func (svc *service) Get(ctx context.Context) (Settings, error) {
	if svc.cache != nil {
		s, ok, err := svc.cache.GetSettings(ctx)
		if err != nil {
			// fall back to the database
			svc.logger.Warn("reading settings cache", err)
		} else if ok {
			return s, nil
		}
	}

	s, err := svc.repo.GetSettings(ctx)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return Settings{}, errors.Wrap(err, "getting settings")
		}
		s = Defaults(NowFunc())
		if err = svc.repo.SaveSettings(ctx, s); err != nil {
			return Settings{}, errors.Wrap(err, "saving default settings")
		}
	}

	svc.setCache(ctx, s)
	return s, nil
}

func (svc *service) Options(ctx context.Context, class string) (ClassOptions, error) {
	s, err := svc.Get(ctx)
	if err != nil {
		return ClassOptions{}, err
	}
	return s.Options(class)
}

func (svc *service) Update(ctx context.Context, us UpdateSettings) (Settings, error) {
	s, err := svc.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	s = us.Apply(s)
	s.UpdatedAt = NowFunc().UTC()

	if err = svc.repo.SaveSettings(ctx, s); err != nil {
		return Settings{}, errors.Wrap(err, "saving settings")
	}
	svc.setCache(ctx, s)
	return s, nil
}

func (svc *service) setCache(ctx context.Context, s Settings) {
	if svc.cache == nil {
		return
	}
	if err := svc.cache.SetSettings(ctx, s); err != nil {
		svc.logger.Warn("writing settings cache", err)
	}
}

// Validate cleans & validates the update.
func (us *UpdateSettings) Validate(validate *validator.Validate) error {
	for i := range us.Classes {
		us.Classes[i].Class = NormalizeClass(us.Classes[i].Class)
	}
	return validate.Struct(us)
}

var (
	uniqueClassesTag  = "unique_classes"
	uniqueClassesText = "each class can only be listed once"
	csvListTag        = "csv_list"
	csvListText       = "must list at most " + strconv.Itoa(maxCSVListLength) + " values"
)

// InitValidators registers the settings validations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(updateSettingsStructValidation, UpdateSettings{})
	core.RegisterCustomTranslation(validate, translator, uniqueClassesTag, uniqueClassesText)
	_ = validate.RegisterValidation(csvListTag, csvListValidation)
	core.RegisterCustomTranslation(validate, translator, csvListTag, csvListText)
}

func csvListValidation(fl validator.FieldLevel) bool {
	return len(csvList(fl.Field().String())) <= maxCSVListLength
}

func updateSettingsStructValidation(sl validator.StructLevel) {
	us, ok := sl.Current().Interface().(UpdateSettings)
	if !ok {
		return
	}
	seen := make(map[string]bool, len(us.Classes))
	for _, c := range us.Classes {
		if seen[c.Class] {
			sl.ReportError(us.Classes, "classes", "Classes", uniqueClassesTag, "")
			return
		}
		seen[c.Class] = true
	}
}
