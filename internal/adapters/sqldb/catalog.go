package sqldb

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
)

//go:embed procedures/*.sql
var procedureFS embed.FS

const nameMarker = "-- name:"

var errUnknownProcedure = errors.New("unknown procedure")

// Catalog maps procedure names to the SQL that implements them. Procedures
// are declared in procedures/*.sql, each introduced by a "-- name:" line.
type Catalog struct {
	procs map[string]string
}

func LoadCatalog() (*Catalog, error) {
	return loadCatalog(procedureFS, "procedures")
}

func loadCatalog(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read procedure dir: %w", err)
	}
	c := &Catalog{procs: map[string]string{}}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if err := c.parse(e.Name(), string(data)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) parse(file, src string) error {
	var (
		name string
		body strings.Builder
	)
	flush := func() error {
		if name == "" {
			return nil
		}
		query := strings.TrimSpace(body.String())
		if query == "" {
			return fmt.Errorf("%s: procedure %s is empty", file, name)
		}
		if _, dup := c.procs[name]; dup {
			return fmt.Errorf("%s: procedure %s declared twice", file, name)
		}
		c.procs[name] = query
		body.Reset()
		return nil
	}

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), nameMarker); ok {
			if err := flush(); err != nil {
				return err
			}
			name = strings.TrimSpace(rest)
			continue
		}
		if name == "" {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", file, err)
	}
	return flush()
}

// Resolve returns the SQL text for stmt.
func (c *Catalog) Resolve(stmt ports.Statement) (string, error) {
	if !stmt.Procedure {
		return stmt.SQL, nil
	}
	query, ok := c.procs[stmt.Name]
	if !ok {
		return "", &domain.StorageError{Op: stmt.Name, Err: errUnknownProcedure}
	}
	return query, nil
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.procs))
	for n := range c.procs {
		names = append(names, n)
	}
	return names
}
