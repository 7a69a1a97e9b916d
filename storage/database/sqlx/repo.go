package sqlxrepos

import (
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/bhorti/core"
)

type baseRepository struct {
	exec core.DBExecutor
}

func (repo baseRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

// where collects AND-ed conditions written with `?` bind vars.
// Queries must be rebound with the executor before running.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// in adds a `col IN (...)` condition. `vals` must be a non-empty slice.
func (w *where) in(col string, vals interface{}) error {
	q, args, err := sqlx.In(col+" IN (?)", vals)
	if err != nil {
		return errors.Wrapf(err, "expanding %s IN", col)
	}
	w.add(q, args...)
	return nil
}

// notIn adds a `col NOT IN (...)` condition. `vals` must be a non-empty slice.
func (w *where) notIn(col string, vals interface{}) error {
	q, args, err := sqlx.In(col+" NOT IN (?)", vals)
	if err != nil {
		return errors.Wrapf(err, "expanding %s NOT IN", col)
	}
	w.add(q, args...)
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// search adds a case-insensitive substring match on any of `cols`. The keyword is matched literally.
func (w *where) search(keyword string, cols ...string) {
	like := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	val := "%" + likeEscaper.Replace(strings.ToLower(keyword)) + "%"
	for _, col := range cols {
		like = append(like, "LOWER("+col+`) LIKE ? ESCAPE '\'`)
		args = append(args, val)
	}
	w.add("("+strings.Join(like, " OR ")+")", args...)
}

func (w where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// orderBy renders the ORDER BY clause. The orderings must hold column names only (see core.AllowedOrderings).
func orderBy(ordering []core.DBOrdering, fallback string) string {
	if len(ordering) == 0 {
		if fallback == "" {
			return ""
		}
		return " ORDER BY " + fallback
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}

// isUniqueViolation reports whether `err` is a unique constraint failure, on postgres or sqlite.
func isUniqueViolation(err error) bool {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		return e.Code == "23505"
	case *sqlite.Error:
		code := e.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(e.Error(), "UNIQUE")
	}
	return false
}

// isUniqueViolationOn reports whether `err` is a unique constraint failure involving the `col` column.
func isUniqueViolationOn(err error, col string) bool {
	if !isUniqueViolation(err) {
		return false
	}
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		// default constraint names list the columns, e.g. admissions_session_year_birth_reg_key
		return strings.Contains(e.Constraint, col) || strings.Contains(e.Detail, col)
	case *sqlite.Error:
		// UNIQUE constraint failed: admissions.session_year, admissions.birth_reg
		return strings.Contains(e.Error(), "."+col)
	}
	return false
}
