package ports

import (
	"context"
	"database/sql"

	"github.com/atvirokodosprendimai/lims/internal/core/field"
)

// Statement is either a named procedure resolved by the store's catalog or a
// literal query. Parameters are bound by name (@id).
type Statement struct {
	Name      string
	SQL       string
	Procedure bool
}

func Proc(name string) Statement {
	return Statement{Name: name, Procedure: true}
}

func Text(query string) Statement {
	return Statement{Name: "text", SQL: query}
}

func (s Statement) String() string {
	if s.Procedure {
		return s.Name
	}
	return s.SQL
}

// Arg builds a named parameter for a Statement.
func Arg(name string, value any) sql.NamedArg {
	return sql.Named(name, value)
}

// RowStore is a transactional row store. All calls run inside the
// transaction the store was obtained from.
type RowStore interface {
	FetchOne(ctx context.Context, stmt Statement, args ...sql.NamedArg) (field.Row, bool, error)
	FetchMany(ctx context.Context, stmt Statement, args ...sql.NamedArg) ([]field.Row, error)
	Execute(ctx context.Context, stmt Statement, args ...sql.NamedArg) (int64, error)
}

// Transactor opens transactions and hands a RowStore bound to them to fn.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	ReadTX(ctx context.Context, fn func(RowStore) error) error
	WriteTX(ctx context.Context, fn func(RowStore) error) error
}
