package sqldb

import (
	"context"
	"database/sql"

	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/field"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"gorm.io/gorm"
)

// RowStore runs catalog procedures and literal statements on one gorm
// transaction.
type RowStore struct {
	tx      *gorm.DB
	catalog *Catalog
}

var _ ports.RowStore = (*RowStore)(nil)

func NewRowStore(tx *gorm.DB, catalog *Catalog) *RowStore {
	return &RowStore{tx: tx, catalog: catalog}
}

func (s *RowStore) FetchOne(ctx context.Context, stmt ports.Statement, args ...sql.NamedArg) (field.Row, bool, error) {
	rows, err := s.FetchMany(ctx, stmt, args...)
	if err != nil {
		return field.Row{}, false, err
	}
	if len(rows) == 0 {
		return field.Row{}, false, nil
	}
	return rows[0], true, nil
}

func (s *RowStore) FetchMany(ctx context.Context, stmt ports.Statement, args ...sql.NamedArg) ([]field.Row, error) {
	query, err := s.catalog.Resolve(stmt)
	if err != nil {
		return nil, err
	}

	rows, err := s.tx.WithContext(ctx).Raw(query, bind(args)...).Rows()
	if err != nil {
		return nil, &domain.StorageError{Op: stmt.Name, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &domain.StorageError{Op: stmt.Name, Err: err}
	}

	var result []field.Row
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &domain.StorageError{Op: stmt.Name, Err: err}
		}
		result = append(result, field.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: stmt.Name, Err: err}
	}
	return result, nil
}

func (s *RowStore) Execute(ctx context.Context, stmt ports.Statement, args ...sql.NamedArg) (int64, error) {
	query, err := s.catalog.Resolve(stmt)
	if err != nil {
		return 0, err
	}
	res := s.tx.WithContext(ctx).Exec(query, bind(args)...)
	if res.Error != nil {
		return 0, &domain.StorageError{Op: stmt.Name, Err: res.Error}
	}
	return res.RowsAffected, nil
}

func bind(args []sql.NamedArg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

// Transactor hands out RowStores bound to gormdb transactions.
type Transactor struct {
	db      *gormdb.DB
	catalog *Catalog
}

var _ ports.Transactor = (*Transactor)(nil)

func NewTransactor(db *gormdb.DB, catalog *Catalog) *Transactor {
	return &Transactor{db: db, catalog: catalog}
}

func (t *Transactor) ReadTX(ctx context.Context, fn func(ports.RowStore) error) error {
	return t.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return fn(NewRowStore(tx.DB, t.catalog))
	})
}

func (t *Transactor) WriteTX(ctx context.Context, fn func(ports.RowStore) error) error {
	return t.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return fn(NewRowStore(tx.DB, t.catalog))
	})
}
