package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/field"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

// Snapshot flattens the row returned by the flat procedure into a JSON
// object whose keys follow the column order of the select. It returns an
// empty string when no row exists.
func Snapshot(ctx context.Context, s *Scope, flat ports.Statement, id uuid.UUID) (string, error) {
	row, ok, err := s.Rows.FetchOne(ctx, flat, ports.Arg("id", id.String()))
	if err != nil {
		return "", fmt.Errorf("select %s: %w", flat, err)
	}
	if !ok {
		return "", nil
	}
	return EncodeSnapshot(row)
}

// EncodeSnapshot writes row as a JSON object with keys in column order.
func EncodeSnapshot(row field.Row) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	values := row.Values()
	for i, col := range row.Columns() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return "", fmt.Errorf("encode snapshot key %q: %w", col, err)
		}
		buf.Write(key)
		buf.WriteByte(':')

		v := values[i]
		switch t := v.(type) {
		case []byte:
			v = string(t)
		case time.Time:
			v = t.Format(time.RFC3339Nano)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode snapshot value %q: %w", col, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}
