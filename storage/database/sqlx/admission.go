package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/admission"
)

const admissionColumns = "id, session_year, serial, status, class, quota, student_name, birth_reg, guardian_mobile, " +
	"data, reviewed_by, reviewed_at, created_at, updated_at"

// admissionRow holds the filtered columns next to the whole form, JSON encoded.
type admissionRow struct {
	ID             string      `db:"id"`
	SessionYear    int         `db:"session_year"`
	Serial         int         `db:"serial"`
	Status         string      `db:"status"`
	Class          string      `db:"class"`
	Quota          string      `db:"quota"`
	StudentName    string      `db:"student_name"`
	BirthReg       string      `db:"birth_reg"`
	GuardianMobile string      `db:"guardian_mobile"`
	Data           string      `db:"data"`
	ReviewedBy     null.String `db:"reviewed_by"`
	ReviewedAt     null.Time   `db:"reviewed_at"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

type admissionRepository struct {
	baseRepository
}

var _ admission.Repository = (*admissionRepository)(nil) // interface compliance check

func NewAdmissionRepository(exec core.DBExecutor) *admissionRepository {
	return &admissionRepository{baseRepository{exec: exec}}
}

func (repo admissionRepository) toRow(adm admission.Admission) (admissionRow, error) {
	data, err := json.Marshal(adm)
	if err != nil {
		return admissionRow{}, errors.Wrap(err, "encoding admission")
	}
	row := admissionRow{
		ID:             adm.ID,
		SessionYear:    adm.SessionYear,
		Serial:         adm.Serial,
		Status:         string(adm.Status),
		Class:          adm.Class,
		Quota:          adm.Quota,
		StudentName:    adm.Student.NameEn,
		BirthReg:       adm.Student.BirthReg,
		GuardianMobile: adm.Guardian.Mobile,
		Data:           string(data),
		ReviewedBy:     null.NewString(adm.ReviewedBy, adm.ReviewedBy != ""),
		CreatedAt:      adm.CreatedAt.UTC(),
		UpdatedAt:      adm.UpdatedAt.UTC(),
	}
	if adm.ReviewedAt != nil {
		row.ReviewedAt = null.TimeFrom(adm.ReviewedAt.UTC())
	}
	return row, nil
}

// fromRow decodes the form; the columns win over the encoded copy since status updates only touch them.
func (repo admissionRepository) fromRow(row admissionRow) (admission.Admission, error) {
	var adm admission.Admission
	if err := json.Unmarshal([]byte(row.Data), &adm); err != nil {
		return admission.Admission{}, errors.Wrapf(err, "decoding admission %s", row.ID)
	}
	adm.ID = row.ID
	adm.SessionYear = row.SessionYear
	adm.Serial = row.Serial
	adm.Status = admission.Status(row.Status)
	adm.ReviewedBy = row.ReviewedBy.String
	adm.ReviewedAt = nil
	if row.ReviewedAt.Valid {
		at := row.ReviewedAt.Time.UTC()
		adm.ReviewedAt = &at
	}
	adm.CreatedAt = row.CreatedAt.UTC()
	adm.UpdatedAt = row.UpdatedAt.UTC()
	return adm, nil
}

func (repo admissionRepository) fromRows(rows []admissionRow) ([]admission.Admission, error) {
	adms := make([]admission.Admission, 0, len(rows))
	for _, row := range rows {
		adm, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		adms = append(adms, adm)
	}
	return adms, nil
}

// trapNoRowsErr maps the "no rows" err to admission.ErrNotFound
func (repo admissionRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return admission.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo admissionRepository) CheckBirthRegUniqueness(ctx context.Context, session int, birthReg string, excludedIDs []string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	var w where
	w.add("session_year = ?", session)
	w.add("birth_reg = ?", birthReg)
	if len(excludedIDs) > 0 {
		if err := w.notIn("id", excludedIDs); err != nil {
			return err
		}
	}

	var exists bool
	q := exe.Rebind("SELECT EXISTS (SELECT 1 FROM admissions" + w.String() + ")")
	if err := sqlx.GetContext(ctx, exe, &exists, q, w.args...); err != nil {
		return errors.Wrap(err, "checking birth registration uniqueness")
	}
	if exists {
		return admission.ErrBirthRegExists
	}
	return nil
}

func (repo admissionRepository) CreateAdmission(ctx context.Context, adm admission.Admission, exec ...core.DBExecutor) (admission.Admission, error) {
	adm.ID = uuid.New().String()
	row, err := repo.toRow(adm)
	if err != nil {
		return admission.Admission{}, err
	}

	q := `INSERT INTO admissions (` + admissionColumns + `) VALUES (
		:id, :session_year, :serial, :status, :class, :quota, :student_name, :birth_reg, :guardian_mobile,
		:data, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		if isUniqueViolationOn(err, "birth_reg") {
			return admission.Admission{}, admission.ErrBirthRegExists
		}
		return admission.Admission{}, errors.Wrap(err, "inserting admission")
	}
	return adm, nil
}

func (repo admissionRepository) GetAdmission(ctx context.Context, filter admission.GetFilter, exec ...core.DBExecutor) (admission.Admission, error) {
	exe := repo.getExec(exec)
	var w where

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return admission.Admission{}, admission.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Serial > 0:
		w.add("session_year = ?", filter.SessionYear)
		w.add("serial = ?", filter.Serial)
	default:
		return admission.Admission{}, admission.ErrNotFound
	}

	var row admissionRow
	q := exe.Rebind("SELECT " + admissionColumns + " FROM admissions" + w.String())
	if err := sqlx.GetContext(ctx, exe, &row, q, w.args...); err != nil {
		return admission.Admission{}, repo.trapNoRowsErr(err, "finding admission")
	}
	return repo.fromRow(row)
}

func (repo admissionRepository) QueryAdmissions(ctx context.Context, filter *admission.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]admission.Admission, error) {
	exe := repo.getExec(exec)
	var w where

	if filter != nil {
		if len(filter.IDs) > 0 {
			if err := w.in("id", filter.IDs); err != nil {
				return nil, err
			}
		}
		if filter.SessionYear > 0 {
			w.add("session_year = ?", filter.SessionYear)
		}
		if filter.Class != "" {
			w.add("class = ?", filter.Class)
		}
		if len(filter.Statuses) > 0 {
			if err := w.in("status", filter.Statuses); err != nil {
				return nil, err
			}
		}
		if filter.Quota != "" {
			w.add("quota = ?", filter.Quota)
		}
		if filter.Search != "" {
			w.search(filter.Search, "student_name", "birth_reg", "guardian_mobile")
		}
		if len(filter.SerialList) > 0 {
			if err := w.in("serial", filter.SerialList); err != nil {
				return nil, err
			}
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q := "SELECT " + admissionColumns + " FROM admissions" + w.String() + orderBy(ordering, "session_year DESC, serial ASC")

	var rows []admissionRow
	if err := sqlx.SelectContext(ctx, exe, &rows, exe.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying admissions")
	}
	return repo.fromRows(rows)
}

func (repo admissionRepository) UpdateAdmission(ctx context.Context, adm admission.Admission, exec ...core.DBExecutor) (admission.Admission, error) {
	row, err := repo.toRow(adm)
	if err != nil {
		return admission.Admission{}, err
	}

	// the status & review columns belong to SetAdmissionStatus; reviewed records are left alone
	q := `UPDATE admissions SET
		class = :class, quota = :quota, student_name = :student_name, birth_reg = :birth_reg,
		guardian_mobile = :guardian_mobile, data = :data, updated_at = :updated_at
		WHERE id = :id AND status = '` + string(admission.StatusPending) + `'`
	exe := repo.getExec(exec)
	res, err := sqlx.NamedExecContext(ctx, exe, q, row)
	if err != nil {
		if isUniqueViolationOn(err, "birth_reg") {
			return admission.Admission{}, admission.ErrBirthRegExists
		}
		return admission.Admission{}, errors.Wrap(err, "updating admission")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return admission.Admission{}, errors.Wrap(err, "counting updated admissions")
	}
	if n == 0 {
		if _, err = repo.GetAdmission(ctx, admission.GetFilter{ID: adm.ID}, exe); err != nil {
			return admission.Admission{}, err
		}
		return admission.Admission{}, admission.ErrNotEditable
	}
	return repo.GetAdmission(ctx, admission.GetFilter{ID: adm.ID}, exe)
}

func (repo admissionRepository) SetAdmissionStatus(ctx context.Context, ids []string, status admission.Status, reviewer string, at time.Time, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exe := repo.getExec(exec)

	var w where
	if err := w.in("id", ids); err != nil {
		return 0, err
	}
	args := append([]interface{}{string(status), null.NewString(reviewer, reviewer != ""), at.UTC(), at.UTC()}, w.args...)
	q := exe.Rebind("UPDATE admissions SET status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?" + w.String())

	res, err := exe.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "setting admissions status")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting updated admissions")
}

func (repo admissionRepository) DeleteAdmissionsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exe := repo.getExec(exec)
	var w where
	if err := w.in("id", ids); err != nil {
		return 0, err
	}
	res, err := exe.ExecContext(ctx, exe.Rebind("DELETE FROM admissions"+w.String()), w.args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting admissions")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting deleted admissions")
}
