// Package field provides typed, null-safe access to the columns of a single
// result row returned by the row store.
package field

import (
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/google/uuid"
)

// timeLayouts are the textual timestamp formats produced by the supported
// drivers when a column is not declared with a temporal type.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Row is one result row. Column order is preserved.
type Row struct {
	columns []string
	values  []any
	index   map[string]int
}

func NewRow(columns []string, values []any) Row {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := index[c]; !ok {
			index[c] = i
		}
	}
	return Row{columns: columns, values: values, index: index}
}

func (r Row) Columns() []string {
	return r.columns
}

func (r Row) Values() []any {
	return r.values
}

func (r Row) Has(column string) bool {
	_, ok := r.index[column]
	return ok
}

func (r Row) raw(column string) (any, error) {
	i, ok := r.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrMissingColumn, column)
	}
	v := r.values[i]
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

func typeError(column string, v any, want string) error {
	return fmt.Errorf("%w: column %q holds %T, want %s", domain.ErrColumnType, column, v, want)
}

func (r Row) NullString(column string) (*string, error) {
	v, err := r.raw(column)
	if err != nil || v == nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, typeError(column, v, "text")
	}
	return &s, nil
}

func (r Row) String(column string) (string, error) {
	p, err := r.NullString(column)
	if err != nil || p == nil {
		return "", err
	}
	return *p, nil
}

func (r Row) NullInt(column string) (*int, error) {
	v, err := r.raw(column)
	if err != nil || v == nil {
		return nil, err
	}
	var n int
	switch t := v.(type) {
	case int64:
		n = int(t)
	case int32:
		n = int(t)
	case int16:
		n = int(t)
	case int:
		n = t
	default:
		return nil, typeError(column, v, "integer")
	}
	return &n, nil
}

func (r Row) Int(column string) (int, error) {
	p, err := r.NullInt(column)
	if err != nil || p == nil {
		return 0, err
	}
	return *p, nil
}

func (r Row) NullFloat(column string) (*float64, error) {
	v, err := r.raw(column)
	if err != nil || v == nil {
		return nil, err
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case int:
		f = float64(t)
	default:
		return nil, typeError(column, v, "double")
	}
	return &f, nil
}

func (r Row) Float(column string) (float64, error) {
	p, err := r.NullFloat(column)
	if err != nil || p == nil {
		return 0, err
	}
	return *p, nil
}

func (r Row) NullBool(column string) (*bool, error) {
	v, err := r.raw(column)
	if err != nil || v == nil {
		return nil, err
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case int64:
		if t != 0 && t != 1 {
			return nil, typeError(column, v, "boolean")
		}
		b = t == 1
	default:
		return nil, typeError(column, v, "boolean")
	}
	return &b, nil
}

func (r Row) Bool(column string) (bool, error) {
	p, err := r.NullBool(column)
	if err != nil || p == nil {
		return false, err
	}
	return *p, nil
}

func (r Row) NullTime(column string) (*time.Time, error) {
	v, err := r.raw(column)
	if err != nil || v == nil {
		return nil, err
	}
	switch t := v.(type) {
	case time.Time:
		return &t, nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, perr := time.Parse(layout, t); perr == nil {
				return &parsed, nil
			}
		}
	}
	return nil, typeError(column, v, "datetime")
}

func (r Row) Time(column string) (time.Time, error) {
	p, err := r.NullTime(column)
	if err != nil || p == nil {
		return time.Time{}, err
	}
	return *p, nil
}

func (r Row) NullUUID(column string) (*uuid.UUID, error) {
	v, err := r.raw(column)
	if err != nil || v == nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		id, perr := uuid.Parse(t)
		if perr != nil {
			return nil, fmt.Errorf("%w: column %q: %v", domain.ErrColumnType, column, perr)
		}
		return &id, nil
	case [16]byte:
		id := uuid.UUID(t)
		return &id, nil
	case uuid.UUID:
		return &t, nil
	}
	return nil, typeError(column, v, "uuid")
}

func (r Row) UUID(column string) (uuid.UUID, error) {
	p, err := r.NullUUID(column)
	if err != nil || p == nil {
		return uuid.Nil, err
	}
	return *p, nil
}

// Count reads the first column of a count(*) style row.
func (r Row) Count() (int64, error) {
	if len(r.columns) == 0 {
		return 0, fmt.Errorf("%w: empty row", domain.ErrMissingColumn)
	}
	switch t := r.values[0].(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	}
	return 0, typeError(r.columns[0], r.values[0], "integer")
}
