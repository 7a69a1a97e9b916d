package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
)

var errPhotoNotIssued = errors.New("this photo was not uploaded with this form, upload it again")

type UploadResponse struct {
	core.StoredFile
	// Token is the receipt to submit as `photo_token` along with the photo's path.
	Token string `json:"token"`
}

// PhotoClaim carries the receipt of a photo uploaded ahead of the form.
type PhotoClaim struct {
	PhotoToken string `json:"photo_token,omitempty"`
}

func (s *Server) registerUploadAPI(g *echo.Group) {
	g.POST("/upload/photo", s.uploadPhoto)
}

// uploadPhoto stores a photo ahead of the form submission; the returned path goes in `student.photo`.
func (s *Server) uploadPhoto(ctx echo.Context) error {
	fh, err := ctx.FormFile(photoField)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: photoField, Error: "this field is required"})
	}

	stored, err := s.savePhoto(ctx.Request().Context(), fh)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, UploadResponse{StoredFile: stored, Token: s.auth.photoReceipt(stored.Path)})
}

// checkPhoto only lets a form point at photos stored for it: the one uploaded with the request,
// the one the record already has, or an earlier upload backed by its receipt.
func (s *Server) checkPhoto(photo, uploaded, current string, claim PhotoClaim) error {
	switch photo {
	case "", uploaded, current:
		return nil
	}
	if claim.PhotoToken != "" && s.auth.formTokens.Verify(formSubject(photoField, photo), claim.PhotoToken) == nil {
		return nil
	}
	return core.NewValidationError(errPhotoNotIssued, core.FieldError{Field: "student.photo", Error: errPhotoNotIssued.Error()})
}
