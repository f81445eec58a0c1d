package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed files/sqlite/*.sql files/postgres/*.sql
var migrationFS embed.FS

// Up applies the migrations for dialect ("sqlite" or "postgres").
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	gooseDialect, dir, err := resolve(dialect)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func resolve(dialect string) (string, string, error) {
	switch dialect {
	case "sqlite", "sqlite3", "":
		return "sqlite3", "files/sqlite", nil
	case "postgres":
		return "postgres", "files/postgres", nil
	}
	return "", "", fmt.Errorf("no migrations for dialect %q", dialect)
}
