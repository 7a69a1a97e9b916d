package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bhorti/core/address"
	"github.com/trezcool/bhorti/core/admission"
	"github.com/trezcool/bhorti/core/applicant"
	"github.com/trezcool/bhorti/core/settings"
)

func admissionForm(name, birthReg string) admission.NewAdmission {
	return admission.NewAdmission{
		Class:   "6",
		Section: "a",
		Shift:   "morning",
		Version: "Bangla",
		Quota:   settings.QuotaGeneral,
		Student: applicant.Student{
			NameEn: name, BirthReg: birthReg, BirthDate: "2013-05-01", Gender: "Male", Religion: "Islam",
			Email: "rahim@mail.test",
		},
		Father: applicant.Parent{NameEn: "Karim Uddin", Mobile: "01711000000", Profession: "Farmer"},
		Mother: applicant.Parent{NameEn: "Rahima Begum", Profession: settings.ProfessionOther, ProfessionOther: "Tailor"},
		PresentAddress: address.Address{
			Village: "Ashulia", PostOffice: "Savar", PostCode: "1340", Upazila: "Savar", District: "Dhaka",
		},
		SameAddress: true,
	}
}

func (app testApp) submitAdmission(t *testing.T, na admission.NewAdmission) AdmissionResponse {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/api/admission", "", na)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AdmissionResponse
	decode(t, rec, &resp)
	return resp
}

func TestAdmissionAPI_create(t *testing.T) {
	app := setup(t)

	resp := app.submitAdmission(t, admissionForm("Rahim Uddin", "2013-2611-2345-67890"))
	assert.Equal(t, 1, resp.Serial)
	assert.Equal(t, admission.StatusPending, resp.Status)
	assert.Equal(t, "20132611234567890", resp.Student.BirthReg)
	assert.Equal(t, "A", resp.Section)
	assert.Equal(t, "Morning", resp.Shift)
	assert.Equal(t, "Tailor", resp.Mother.Profession)
	assert.Equal(t, resp.PresentAddress, resp.PermanentAddress)
	assert.Equal(t, fmt.Sprintf("ADM-%d-0001", resp.SessionYear), resp.Confirmation.ApplicationNo)
	assert.Equal(t, "General", resp.Confirmation.Quota)
	assert.NotEmpty(t, resp.EditToken)
	assert.Contains(t, resp.EditURL, app.conf.FrontendBaseURL+"/admission/form/"+resp.ID+"?token=")
	require.Len(t, app.mails.Messages, 1)

	second := app.submitAdmission(t, admissionForm("Karim Uddin", "20132611234567891"))
	assert.Equal(t, 2, second.Serial)

	t.Run("duplicate birth registration", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/admission", "", admissionForm("Rahim Again", "20132611234567890"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "student.birth_reg")
	})

	t.Run("invalid", func(t *testing.T) {
		na := admissionForm("", "123")
		na.Class = "42"
		rec := app.do(t, http.MethodPost, "/api/admission", "", na)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields := errorFields(t, rec)
		assert.Contains(t, fields, "student.name_en")
		assert.Contains(t, fields, "student.birth_reg")
	})

	t.Run("other profession left blank", func(t *testing.T) {
		na := admissionForm("Sumon Mia", "20132611234567899")
		na.Mother.ProfessionOther = ""
		rec := app.do(t, http.MethodPost, "/api/admission", "", na)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "mother.profession_other")
	})

	t.Run("upazila outside district", func(t *testing.T) {
		na := admissionForm("Sumon Mia", "20132611234567899")
		na.PresentAddress.District = "Gazipur"
		rec := app.do(t, http.MethodPost, "/api/admission", "", na)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "present_address.upazila")
	})

	t.Run("closed", func(t *testing.T) {
		closed := false
		rec := app.do(t, http.MethodPut, "/api/settings", app.token(t, app.admin), settings.UpdateSettings{AdmissionOpen: &closed})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = app.do(t, http.MethodPost, "/api/admission", "", admissionForm("Late Comer", "20132611234567898"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, admission.ErrClosed.Error(), body["error"])
	})
}

func TestAdmissionAPI_multipart(t *testing.T) {
	app := setup(t)

	body, ct := multipartForm(t, admissionForm("Rahim Uddin", "20132611234567890"), pngPhoto(t))
	rec := app.do(t, http.MethodPost, "/api/admission", "", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AdmissionResponse
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.Student.Photo)
	assert.FileExists(t, filepath.Join(app.files.Root(), resp.Student.Photo))
	assert.Equal(t, resp.Student.Photo, resp.Confirmation.Photo)

	// replacing the photo removes the old one
	body, ct = multipartForm(t, admissionForm("Rahim Uddin", "20132611234567890"), pngPhoto(t))
	path := "/api/admission/form/" + resp.ID + "?token=" + url.QueryEscape(resp.EditToken)
	rec = app.do(t, http.MethodPut, path, "", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated AdmissionResponse
	decode(t, rec, &updated)
	assert.NotEqual(t, resp.Student.Photo, updated.Student.Photo)
	assert.FileExists(t, filepath.Join(app.files.Root(), updated.Student.Photo))
	_, err := os.Stat(filepath.Join(app.files.Root(), resp.Student.Photo))
	assert.True(t, os.IsNotExist(err))

	t.Run("invalid form keeps no photo", func(t *testing.T) {
		before, _ := os.ReadDir(filepath.Join(app.files.Root(), "photos"))
		body, ct := multipartForm(t, admissionForm("", "1"), pngPhoto(t))
		rec := app.do(t, http.MethodPost, "/api/admission", "", body, ct)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		after, _ := os.ReadDir(filepath.Join(app.files.Root(), "photos"))
		assert.Len(t, after, len(before))
	})

	t.Run("missing data part", func(t *testing.T) {
		body, ct := multipartForm(t, nil, pngPhoto(t))
		rec := app.do(t, http.MethodPost, "/api/admission", "", body, ct)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), dataField)
	})
}

func TestAdmissionAPI_photoOwnership(t *testing.T) {
	app := setup(t)

	body, ct := multipartForm(t, admissionForm("Rahim Uddin", "20132611234567890"), pngPhoto(t))
	rec := app.do(t, http.MethodPost, "/api/admission", "", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var victim AdmissionResponse
	decode(t, rec, &victim)
	victimPhoto := filepath.Join(app.files.Root(), victim.Student.Photo)

	t.Run("create with someone else's photo", func(t *testing.T) {
		na := admissionForm("Karim Uddin", "20132611234567891")
		na.Student.Photo = victim.Student.Photo
		rec := app.do(t, http.MethodPost, "/api/admission", "", na)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "student.photo")
		assert.FileExists(t, victimPhoto)
	})

	t.Run("update to someone else's photo", func(t *testing.T) {
		own := app.submitAdmission(t, admissionForm("Karim Uddin", "20132611234567891"))
		path := "/api/admission/form/" + own.ID + "?token=" + url.QueryEscape(own.EditToken)

		na := admissionForm("Karim Uddin", "20132611234567891")
		na.Student.Photo = victim.Student.Photo
		rec := app.do(t, http.MethodPut, path, "", na)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "student.photo")

		// a receipt is only good for its own upload
		body, ct := multipartForm(t, nil, pngPhoto(t))
		rec = app.do(t, http.MethodPost, "/api/upload/photo", "", body, ct)
		require.Equal(t, http.StatusCreated, rec.Code)
		var upload UploadResponse
		decode(t, rec, &upload)
		rec = app.do(t, http.MethodPut, path, "", admissionPayload{NewAdmission: na, PhotoClaim: PhotoClaim{PhotoToken: upload.Token}})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = app.do(t, http.MethodDelete, "/api/admission/"+own.ID, app.token(t, app.admin), nil)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		assert.FileExists(t, victimPhoto)
	})

	t.Run("uploaded beforehand", func(t *testing.T) {
		body, ct := multipartForm(t, nil, pngPhoto(t))
		rec := app.do(t, http.MethodPost, "/api/upload/photo", "", body, ct)
		require.Equal(t, http.StatusCreated, rec.Code)
		var upload UploadResponse
		decode(t, rec, &upload)

		na := admissionForm("Jamal Hossain", "20132611234567892")
		na.Student.Photo = upload.Path
		rec = app.do(t, http.MethodPost, "/api/admission", "", admissionPayload{NewAdmission: na, PhotoClaim: PhotoClaim{PhotoToken: upload.Token}})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp AdmissionResponse
		decode(t, rec, &resp)
		assert.Equal(t, upload.Path, resp.Student.Photo)

		// the record's own photo needs no receipt
		na.Student.NameEn = "Jamal Hossain Khan"
		path := "/api/admission/form/" + resp.ID + "?token=" + url.QueryEscape(resp.EditToken)
		rec = app.do(t, http.MethodPut, path, "", na)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestAdmissionAPI_form(t *testing.T) {
	app := setup(t)
	created := app.submitAdmission(t, admissionForm("Rahim Uddin", "20132611234567890"))
	other := app.submitAdmission(t, admissionForm("Karim Uddin", "20132611234567891"))

	formPath := func(id, token string) string {
		p := "/api/admission/form/" + id
		if token != "" {
			p += "?token=" + url.QueryEscape(token)
		}
		return p
	}

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
	}{
		{name: "edit token", path: formPath(created.ID, created.EditToken), wantCode: http.StatusOK},
		{name: "staff", path: formPath(created.ID, ""), token: app.token(t, app.staff), wantCode: http.StatusOK},
		{name: "anonymous", path: formPath(created.ID, ""), wantCode: http.StatusUnauthorized},
		{name: "token of another form", path: formPath(created.ID, other.EditToken), wantCode: http.StatusForbidden},
		{name: "garbage token", path: formPath(created.ID, "nope"), wantCode: http.StatusForbidden},
		{name: "unknown form", path: formPath("8c5d4c4e-5b6f-4d8e-9d55-3f0e2a1b7c90", ""), token: app.token(t, app.staff), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodGet, tt.path, tt.token, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var resp AdmissionResponse
				decode(t, rec, &resp)
				assert.Equal(t, created.ID, resp.ID)
				assert.Empty(t, resp.EditToken)
			}
		})
	}

	t.Run("update", func(t *testing.T) {
		na := admissionForm("Rahim Uddin Khan", "20132611234567890")
		rec := app.do(t, http.MethodPut, formPath(created.ID, created.EditToken), "", na)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp AdmissionResponse
		decode(t, rec, &resp)
		assert.Equal(t, "Rahim Uddin Khan", resp.Student.NameEn)
		assert.Equal(t, created.Serial, resp.Serial)

		// taking another applicant's birth registration
		na.Student.BirthReg = "20132611234567891"
		rec = app.do(t, http.MethodPut, formPath(created.ID, created.EditToken), "", na)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "student.birth_reg")
	})

	t.Run("pdf", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/api/admission/form/"+created.ID+"/pdf?token="+url.QueryEscape(created.EditToken), "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, mimePDF, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), created.Confirmation.ApplicationNo+".pdf")
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	})

	t.Run("confirm", func(t *testing.T) {
		q := url.Values{"serial": {"1"}, "birth_reg": {"2013 2611 2345 67890"}}
		rec := app.do(t, http.MethodGet, "/api/admission/confirm?"+q.Encode(), "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var conf admission.Confirmation
		decode(t, rec, &conf)
		assert.Equal(t, created.ID, conf.ID)

		q.Set("birth_reg", "20132611234567891")
		rec = app.do(t, http.MethodGet, "/api/admission/confirm?"+q.Encode(), "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = app.do(t, http.MethodGet, "/api/admission/confirm", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields := errorFields(t, rec)
		assert.Contains(t, fields, "serial")
		assert.Contains(t, fields, "birth_reg")
	})
}

func TestAdmissionAPI_staff(t *testing.T) {
	app := setup(t)
	adminToken := app.token(t, app.admin)
	staffToken := app.token(t, app.staff)

	var created []AdmissionResponse
	for i, name := range []string{"Rahim Uddin", "Karim Uddin", "Jamal Hossain", "Nusrat Jahan"} {
		created = append(created, app.submitAdmission(t, admissionForm(name, fmt.Sprintf("2013261123456789%d", i))))
	}

	t.Run("list", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/api/admission", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = app.do(t, http.MethodGet, "/api/admission?ordering=-serial", staffToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var adms []admission.Admission
		decode(t, rec, &adms)
		require.Len(t, adms, 4)
		assert.Equal(t, 4, adms[0].Serial)

		rec = app.do(t, http.MethodGet, "/api/admission?serials=1-2,4&ordering=serial", staffToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		adms = nil
		decode(t, rec, &adms)
		require.Len(t, adms, 3)
		assert.Equal(t, []int{1, 2, 4}, []int{adms[0].Serial, adms[1].Serial, adms[2].Serial})

		rec = app.do(t, http.MethodGet, "/api/admission?search=uddin", staffToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		adms = nil
		decode(t, rec, &adms)
		assert.Len(t, adms, 2)

		rec = app.do(t, http.MethodGet, "/api/admission?serials=5-1", staffToken, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "serials")

		rec = app.do(t, http.MethodGet, "/api/admission?created_from=yesterday", staffToken, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorFields(t, rec), "created_from")
	})

	t.Run("export", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/api/admission/export", staffToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, mimeXLSX, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
		assert.NotZero(t, rec.Body.Len())
	})

	t.Run("approve", func(t *testing.T) {
		su := admission.StatusUpdate{Serials: "1-2", Status: admission.StatusApproved}
		rec := app.do(t, http.MethodPost, "/api/admission/status", staffToken, su)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		mailsBefore := len(app.mails.Messages)
		rec = app.do(t, http.MethodPost, "/api/admission/status", adminToken, su)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			Updated int                   `json:"updated"`
			Items   []admission.Admission `json:"items"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, 2, resp.Updated)
		for _, adm := range resp.Items {
			assert.Equal(t, admission.StatusApproved, adm.Status)
			assert.Equal(t, "headmaster", adm.ReviewedBy)
		}
		assert.Len(t, app.mails.Messages, mailsBefore+2)

		// reviewed forms are locked
		path := "/api/admission/form/" + created[0].ID + "?token=" + url.QueryEscape(created[0].EditToken)
		rec = app.do(t, http.MethodPut, path, "", admissionForm("Rahim Uddin", "20132611234567890"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, admission.ErrNotEditable.Error(), body["error"])

		rec = app.do(t, http.MethodPost, "/api/admission/status", adminToken, admission.StatusUpdate{Status: "maybe"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields := errorFields(t, rec)
		assert.Contains(t, fields, "status")
		assert.Contains(t, fields, "ids")
	})

	t.Run("delete", func(t *testing.T) {
		rec := app.do(t, http.MethodDelete, "/api/admission/"+created[3].ID, staffToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(t, http.MethodDelete, "/api/admission/"+created[3].ID, adminToken, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = app.do(t, http.MethodGet, "/api/admission/form/"+created[3].ID, staffToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
