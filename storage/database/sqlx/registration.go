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
	"github.com/trezcool/bhorti/core/registration"
)

const registrationColumns = "id, kind, session_year, serial, status, class, student_group, section, roll, student_name, " +
	"birth_reg, guardian_mobile, data, reviewed_by, reviewed_at, created_at, updated_at"

type registrationRow struct {
	ID             string      `db:"id"`
	Kind           string      `db:"kind"`
	SessionYear    int         `db:"session_year"`
	Serial         int         `db:"serial"`
	Status         string      `db:"status"`
	Class          string      `db:"class"`
	Group          string      `db:"student_group"`
	Section        string      `db:"section"`
	Roll           string      `db:"roll"`
	StudentName    string      `db:"student_name"`
	BirthReg       string      `db:"birth_reg"`
	GuardianMobile string      `db:"guardian_mobile"`
	Data           string      `db:"data"`
	ReviewedBy     null.String `db:"reviewed_by"`
	ReviewedAt     null.Time   `db:"reviewed_at"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

type registrationRepository struct {
	baseRepository
}

var _ registration.Repository = (*registrationRepository)(nil) // interface compliance check

func NewRegistrationRepository(exec core.DBExecutor) *registrationRepository {
	return &registrationRepository{baseRepository{exec: exec}}
}

func (repo registrationRepository) toRow(reg registration.Registration) (registrationRow, error) {
	data, err := json.Marshal(reg)
	if err != nil {
		return registrationRow{}, errors.Wrap(err, "encoding registration")
	}
	row := registrationRow{
		ID:             reg.ID,
		Kind:           string(reg.Kind),
		SessionYear:    reg.SessionYear,
		Serial:         reg.Serial,
		Status:         string(reg.Status),
		Class:          reg.Class,
		Group:          reg.Group,
		Section:        reg.Section,
		Roll:           reg.Roll,
		StudentName:    reg.Student.NameEn,
		BirthReg:       reg.Student.BirthReg,
		GuardianMobile: reg.Guardian.Mobile,
		Data:           string(data),
		ReviewedBy:     null.NewString(reg.ReviewedBy, reg.ReviewedBy != ""),
		CreatedAt:      reg.CreatedAt.UTC(),
		UpdatedAt:      reg.UpdatedAt.UTC(),
	}
	if reg.ReviewedAt != nil {
		row.ReviewedAt = null.TimeFrom(reg.ReviewedAt.UTC())
	}
	return row, nil
}

func (repo registrationRepository) fromRow(row registrationRow) (registration.Registration, error) {
	var reg registration.Registration
	if err := json.Unmarshal([]byte(row.Data), &reg); err != nil {
		return registration.Registration{}, errors.Wrapf(err, "decoding registration %s", row.ID)
	}
	reg.ID = row.ID
	reg.Kind = registration.Kind(row.Kind)
	reg.SessionYear = row.SessionYear
	reg.Serial = row.Serial
	reg.Status = registration.Status(row.Status)
	reg.ReviewedBy = row.ReviewedBy.String
	reg.ReviewedAt = nil
	if row.ReviewedAt.Valid {
		at := row.ReviewedAt.Time.UTC()
		reg.ReviewedAt = &at
	}
	reg.CreatedAt = row.CreatedAt.UTC()
	reg.UpdatedAt = row.UpdatedAt.UTC()
	return reg, nil
}

// trapNoRowsErr maps the "no rows" err to registration.ErrNotFound
func (repo registrationRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return registration.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo registrationRepository) CheckBirthRegUniqueness(ctx context.Context, kind registration.Kind, session int, birthReg string, excludedIDs []string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	var w where
	w.add("kind = ?", string(kind))
	w.add("session_year = ?", session)
	w.add("birth_reg = ?", birthReg)
	if len(excludedIDs) > 0 {
		if err := w.notIn("id", excludedIDs); err != nil {
			return err
		}
	}

	var exists bool
	q := exe.Rebind("SELECT EXISTS (SELECT 1 FROM registrations" + w.String() + ")")
	if err := sqlx.GetContext(ctx, exe, &exists, q, w.args...); err != nil {
		return errors.Wrap(err, "checking birth registration uniqueness")
	}
	if exists {
		return registration.ErrBirthRegExists
	}
	return nil
}

func (repo registrationRepository) CreateRegistration(ctx context.Context, reg registration.Registration, exec ...core.DBExecutor) (registration.Registration, error) {
	reg.ID = uuid.New().String()
	row, err := repo.toRow(reg)
	if err != nil {
		return registration.Registration{}, err
	}

	q := `INSERT INTO registrations (` + registrationColumns + `) VALUES (
		:id, :kind, :session_year, :serial, :status, :class, :student_group, :section, :roll, :student_name,
		:birth_reg, :guardian_mobile, :data, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		if isUniqueViolationOn(err, "birth_reg") {
			return registration.Registration{}, registration.ErrBirthRegExists
		}
		return registration.Registration{}, errors.Wrap(err, "inserting registration")
	}
	return reg, nil
}

func (repo registrationRepository) GetRegistration(ctx context.Context, filter registration.GetFilter, exec ...core.DBExecutor) (registration.Registration, error) {
	exe := repo.getExec(exec)

	if _, err := uuid.Parse(filter.ID); err != nil {
		return registration.Registration{}, registration.ErrNotFound
	}
	var w where
	w.add("id = ?", filter.ID)
	if filter.Kind != "" {
		w.add("kind = ?", string(filter.Kind))
	}

	var row registrationRow
	q := exe.Rebind("SELECT " + registrationColumns + " FROM registrations" + w.String())
	if err := sqlx.GetContext(ctx, exe, &row, q, w.args...); err != nil {
		return registration.Registration{}, repo.trapNoRowsErr(err, "finding registration")
	}
	return repo.fromRow(row)
}

func (repo registrationRepository) QueryRegistrations(ctx context.Context, filter *registration.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]registration.Registration, error) {
	exe := repo.getExec(exec)
	var w where

	if filter != nil {
		if filter.Kind != "" {
			w.add("kind = ?", string(filter.Kind))
		}
		if len(filter.IDs) > 0 {
			if err := w.in("id", filter.IDs); err != nil {
				return nil, err
			}
		}
		if filter.SessionYear > 0 {
			w.add("session_year = ?", filter.SessionYear)
		}
		if filter.Group != "" {
			w.add("LOWER(student_group) = LOWER(?)", filter.Group)
		}
		if filter.Section != "" {
			w.add("LOWER(section) = LOWER(?)", filter.Section)
		}
		if len(filter.Statuses) > 0 {
			if err := w.in("status", filter.Statuses); err != nil {
				return nil, err
			}
		}
		if filter.Search != "" {
			w.search(filter.Search, "student_name", "birth_reg", "guardian_mobile", "roll")
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

	q := "SELECT " + registrationColumns + " FROM registrations" + w.String() +
		orderBy(ordering, "session_year DESC, kind ASC, serial ASC")

	var rows []registrationRow
	if err := sqlx.SelectContext(ctx, exe, &rows, exe.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	regs := make([]registration.Registration, 0, len(rows))
	for _, row := range rows {
		reg, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (repo registrationRepository) UpdateRegistration(ctx context.Context, reg registration.Registration, exec ...core.DBExecutor) (registration.Registration, error) {
	row, err := repo.toRow(reg)
	if err != nil {
		return registration.Registration{}, err
	}

	// the status & review columns belong to SetRegistrationStatus; reviewed records are left alone
	q := `UPDATE registrations SET
		student_group = :student_group, section = :section, roll = :roll,
		student_name = :student_name, birth_reg = :birth_reg, guardian_mobile = :guardian_mobile, data = :data,
		updated_at = :updated_at
		WHERE id = :id AND kind = :kind AND status = '` + string(registration.StatusPending) + `'`
	exe := repo.getExec(exec)
	res, err := sqlx.NamedExecContext(ctx, exe, q, row)
	if err != nil {
		if isUniqueViolationOn(err, "birth_reg") {
			return registration.Registration{}, registration.ErrBirthRegExists
		}
		return registration.Registration{}, errors.Wrap(err, "updating registration")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registration.Registration{}, errors.Wrap(err, "counting updated registrations")
	}
	filter := registration.GetFilter{ID: reg.ID, Kind: reg.Kind}
	if n == 0 {
		if _, err = repo.GetRegistration(ctx, filter, exe); err != nil {
			return registration.Registration{}, err
		}
		return registration.Registration{}, registration.ErrNotEditable
	}
	return repo.GetRegistration(ctx, filter, exe)
}

func (repo registrationRepository) SetRegistrationStatus(ctx context.Context, kind registration.Kind, ids []string, status registration.Status, reviewer string, at time.Time, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exe := repo.getExec(exec)

	var w where
	w.add("kind = ?", string(kind))
	if err := w.in("id", ids); err != nil {
		return 0, err
	}
	args := append([]interface{}{string(status), null.NewString(reviewer, reviewer != ""), at.UTC(), at.UTC()}, w.args...)
	q := exe.Rebind("UPDATE registrations SET status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?" + w.String())

	res, err := exe.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "setting registrations status")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting updated registrations")
}

func (repo registrationRepository) DeleteRegistrationsByID(ctx context.Context, kind registration.Kind, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exe := repo.getExec(exec)
	var w where
	w.add("kind = ?", string(kind))
	if err := w.in("id", ids); err != nil {
		return 0, err
	}
	res, err := exe.ExecContext(ctx, exe.Rebind("DELETE FROM registrations"+w.String()), w.args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting registrations")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting deleted registrations")
}
