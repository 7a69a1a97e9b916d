package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
)

// SerialCounter allocates serials from the serial_counters table.
// The upsert is a single statement, so concurrent submissions never share a serial.
type SerialCounter struct {
	baseRepository
}

var _ core.SerialAllocator = (*SerialCounter)(nil) // interface compliance check

func NewSerialCounter(exec core.DBExecutor) *SerialCounter {
	return &SerialCounter{baseRepository{exec: exec}}
}

func (sc SerialCounter) Next(ctx context.Context, scope string) (int, error) {
	var serial int
	q := sc.exec.Rebind(`INSERT INTO serial_counters (scope, value) VALUES (?, 1)
		ON CONFLICT (scope) DO UPDATE SET value = serial_counters.value + 1
		RETURNING value`)
	if err := sqlx.GetContext(ctx, sc.exec, &serial, q, scope); err != nil {
		return 0, errors.Wrapf(err, "incrementing serial counter %q", scope)
	}
	return serial, nil
}

// Current returns the last allocated serial of `scope`, 0 if none.
func (sc SerialCounter) Current(ctx context.Context, scope string) (int, error) {
	var serial int
	q := sc.exec.Rebind("SELECT COALESCE(MAX(value), 0) FROM serial_counters WHERE scope = ?")
	if err := sqlx.GetContext(ctx, sc.exec, &serial, q, scope); err != nil {
		return 0, errors.Wrapf(err, "reading serial counter %q", scope)
	}
	return serial, nil
}

// Observe raises the counter of `scope` to `serial` when it is behind. Serials allocated elsewhere (redis) are recorded this way.
func (sc SerialCounter) Observe(ctx context.Context, scope string, serial int) error {
	q := sc.exec.Rebind(`INSERT INTO serial_counters (scope, value) VALUES (?, ?)
		ON CONFLICT (scope) DO UPDATE SET value = excluded.value
		WHERE serial_counters.value < excluded.value`)
	_, err := sc.exec.ExecContext(ctx, q, scope, serial)
	return errors.Wrapf(err, "recording serial counter %q", scope)
}
