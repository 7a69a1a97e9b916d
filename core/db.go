package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
		Close() error
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// AllowedOrderings drops the orderings whose field is not in `allowed` (json name -> column).
func AllowedOrderings(ordering []DBOrdering, allowed map[string]string) []DBOrdering {
	res := make([]DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := allowed[ord.Field]; ok {
			res = append(res, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return res
}
