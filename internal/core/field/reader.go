package field

import (
	"time"

	"github.com/google/uuid"
)

// Reader reads several columns of one row and keeps the first error, so a
// whole entity can be populated before checking Err once.
type Reader struct {
	row Row
	err error
}

func (r Row) Reader() *Reader {
	return &Reader{row: r}
}

func (rd *Reader) Err() error {
	return rd.err
}

func read[T any](rd *Reader, column string, fn func(Row, string) (T, error)) T {
	var zero T
	if rd.err != nil {
		return zero
	}
	v, err := fn(rd.row, column)
	if err != nil {
		rd.err = err
		return zero
	}
	return v
}

func (rd *Reader) String(column string) string {
	return read(rd, column, Row.String)
}

func (rd *Reader) NullString(column string) *string {
	return read(rd, column, Row.NullString)
}

func (rd *Reader) Int(column string) int {
	return read(rd, column, Row.Int)
}

func (rd *Reader) NullInt(column string) *int {
	return read(rd, column, Row.NullInt)
}

func (rd *Reader) Float(column string) float64 {
	return read(rd, column, Row.Float)
}

func (rd *Reader) NullFloat(column string) *float64 {
	return read(rd, column, Row.NullFloat)
}

func (rd *Reader) Bool(column string) bool {
	return read(rd, column, Row.Bool)
}

func (rd *Reader) NullBool(column string) *bool {
	return read(rd, column, Row.NullBool)
}

func (rd *Reader) Time(column string) time.Time {
	return read(rd, column, Row.Time)
}

func (rd *Reader) NullTime(column string) *time.Time {
	return read(rd, column, Row.NullTime)
}

func (rd *Reader) UUID(column string) uuid.UUID {
	return read(rd, column, Row.UUID)
}

func (rd *Reader) NullUUID(column string) *uuid.UUID {
	return read(rd, column, Row.NullUUID)
}
