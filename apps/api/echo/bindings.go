package echoapi

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
)

const (
	orderingParam = "ordering"
	dataField     = "data"  // multipart: the form as json
	photoField    = "photo" // multipart: the applicant's photo
	dateFmt       = "2006-01-02"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads `?ordering=serial,-created_at`. Unknown fields are dropped by the services.
func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindDateRange reads `?created_from=2025-01-01&created_to=2025-01-31`. `to` is inclusive.
func bindDateRange(ctx echo.Context, from, to *time.Time) error {
	var fields []core.FieldError
	if v := ctx.QueryParam("created_from"); v != "" {
		t, err := time.Parse(dateFmt, v)
		if err != nil {
			fields = append(fields, core.FieldError{Field: "created_from", Error: "must be a date (YYYY-MM-DD)"})
		}
		*from = t
	}
	if v := ctx.QueryParam("created_to"); v != "" {
		t, err := time.Parse(dateFmt, v)
		if err != nil {
			fields = append(fields, core.FieldError{Field: "created_to", Error: "must be a date (YYYY-MM-DD)"})
		}
		*to = t.Add(24*time.Hour - time.Nanosecond)
	}
	if len(fields) > 0 {
		return core.NewValidationError(nil, fields...)
	}
	return nil
}

// bindForm binds a form submitted either as json or as multipart, the json in the `data` part.
// The `photo` file part, if any, is stored and its path set through setPhoto.
func (s *Server) bindForm(ctx echo.Context, dst interface{}, setPhoto func(path string)) error {
	if !strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if err := ctx.Bind(dst); err != nil {
			return errors.Wrap(err, "binding form")
		}
		return nil
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form").SetInternal(err)
	}
	data := form.Value[dataField]
	if len(data) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: dataField, Error: "this field is required"})
	}
	if err = json.Unmarshal([]byte(data[0]), dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form data").SetInternal(err)
	}

	if fhs := form.File[photoField]; len(fhs) > 0 {
		stored, err := s.savePhoto(ctx.Request().Context(), fhs[0])
		if err != nil {
			return err
		}
		setPhoto(stored.Path)
	}
	return nil
}

func (s *Server) savePhoto(ctx context.Context, fh *multipart.FileHeader) (core.StoredFile, error) {
	f, err := fh.Open()
	if err != nil {
		return core.StoredFile{}, errors.Wrap(err, "opening uploaded photo")
	}
	defer f.Close()

	stored, err := s.deps.Files.Save(ctx, f, fh.Filename)
	return stored, errors.Wrap(err, "saving photo")
}
