// Package seed loads reference data and preparation geometries from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/entity"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/atvirokodosprendimai/lims/internal/core/usecase"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Geometry struct {
	ID              uuid.UUID `yaml:"id"`
	Name            string    `yaml:"name"`
	MinFillHeightMM *float64  `yaml:"min_fill_height_mm"`
	MaxFillHeightMM *float64  `yaml:"max_fill_height_mm"`
	Comment         string    `yaml:"comment"`
}

type File struct {
	domain.ReferenceData `yaml:",inline"`
	Geometries           []Geometry `yaml:"preparation_geometries"`
}

type Summary struct {
	Nuclides         int
	SampleTypes      int
	SampleComponents int
	Geometries       int
}

func Decode(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	return f, f.validate()
}

func LoadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

func (f File) validate() error {
	for i, n := range f.Nuclides {
		if n.ID == uuid.Nil || n.Name == "" {
			return fmt.Errorf("%w: nuclide %d needs id and name", domain.ErrInvalidPrecondition, i)
		}
	}
	for i, st := range f.SampleTypes {
		if st.ID == uuid.Nil || st.Name == "" {
			return fmt.Errorf("%w: sample type %d needs id and name", domain.ErrInvalidPrecondition, i)
		}
	}
	for i, sc := range f.SampleComponents {
		if sc.ID == uuid.Nil || sc.Name == "" {
			return fmt.Errorf("%w: sample component %d needs id and name", domain.ErrInvalidPrecondition, i)
		}
	}
	for i, g := range f.Geometries {
		if g.Name == "" {
			return fmt.Errorf("%w: preparation geometry %d needs a name", domain.ErrInvalidPrecondition, i)
		}
	}
	return nil
}

// Apply upserts the reference data, then stores the geometries as audited
// aggregates under actor.
func Apply(ctx context.Context, refs ports.ReferenceRepository, aggregates *usecase.AggregateService, actor domain.ActorContext, f File) (Summary, error) {
	if err := refs.UpsertReferenceData(ctx, f.ReferenceData); err != nil {
		return Summary{}, fmt.Errorf("seed reference data: %w", err)
	}

	geometries := make([]entity.PreparationGeometry, 0, len(f.Geometries))
	for _, g := range f.Geometries {
		geometries = append(geometries, entity.PreparationGeometry{
			ID:              g.ID,
			Name:            g.Name,
			MinFillHeightMM: g.MinFillHeightMM,
			MaxFillHeightMM: g.MaxFillHeightMM,
			Comment:         g.Comment,
		})
	}
	if len(geometries) > 0 {
		if err := aggregates.StoreGeometries(ctx, actor, geometries); err != nil {
			return Summary{}, fmt.Errorf("seed preparation geometries: %w", err)
		}
	}

	return Summary{
		Nuclides:         len(f.Nuclides),
		SampleTypes:      len(f.SampleTypes),
		SampleComponents: len(f.SampleComponents),
		Geometries:       len(geometries),
	}, nil
}
