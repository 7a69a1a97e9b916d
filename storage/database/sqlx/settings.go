package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
	"github.com/trezcool/bhorti/core/settings"
)

// the settings table holds a single row
const settingsRowID = 1

type settingsRepository struct {
	baseRepository
}

var _ settings.Repository = (*settingsRepository)(nil) // interface compliance check

func NewSettingsRepository(exec core.DBExecutor) *settingsRepository {
	return &settingsRepository{baseRepository{exec: exec}}
}

func (repo settingsRepository) GetSettings(ctx context.Context, exec ...core.DBExecutor) (settings.Settings, error) {
	exe := repo.getExec(exec)

	var data string
	q := exe.Rebind("SELECT data FROM settings WHERE id = ?")
	if err := sqlx.GetContext(ctx, exe, &data, q, settingsRowID); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return settings.Settings{}, settings.ErrNotFound
		}
		return settings.Settings{}, errors.Wrap(err, "reading settings")
	}

	var s settings.Settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return settings.Settings{}, errors.Wrap(err, "decoding settings")
	}
	return s, nil
}

func (repo settingsRepository) SaveSettings(ctx context.Context, s settings.Settings, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)

	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding settings")
	}
	q := exe.Rebind(`INSERT INTO settings (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	_, err = exe.ExecContext(ctx, q, settingsRowID, string(data), s.UpdatedAt.UTC())
	return errors.Wrap(err, "saving settings")
}
