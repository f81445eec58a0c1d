package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

// PreparationGeometry is a container geometry used when preparing samples.
type PreparationGeometry struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	MinFillHeightMM  *float64   `json:"min_fill_height_mm"`
	MaxFillHeightMM  *float64   `json:"max_fill_height_mm"`
	InstanceStatusID *int       `json:"instance_status_id"`
	Comment          string     `json:"comment"`
	CreateDate       *time.Time `json:"create_date"`
	CreatedBy        string     `json:"created_by"`
	UpdateDate       *time.Time `json:"update_date"`
	UpdatedBy        string     `json:"updated_by"`

	Dirty bool `json:"-"`
}

func NewPreparationGeometry() *PreparationGeometry {
	return &PreparationGeometry{ID: uuid.New()}
}

func (g *PreparationGeometry) Kind() domain.EntityKind {
	return domain.KindPreparationGeometry
}

func (g *PreparationGeometry) EntityID() uuid.UUID {
	return g.ID
}

func (g *PreparationGeometry) IsDirty() bool {
	return g.Dirty
}

func (g *PreparationGeometry) ClearDirty() {
	g.Dirty = false
}

func (g *PreparationGeometry) Clone() *PreparationGeometry {
	c := *g
	c.MinFillHeightMM = clonePtr(g.MinFillHeightMM)
	c.MaxFillHeightMM = clonePtr(g.MaxFillHeightMM)
	c.InstanceStatusID = clonePtr(g.InstanceStatusID)
	c.CreateDate = clonePtr(g.CreateDate)
	c.UpdateDate = clonePtr(g.UpdateDate)
	return &c
}

func (g *PreparationGeometry) LoadFromDB(ctx context.Context, s *Scope, id uuid.UUID) error {
	row, err := loadRow(ctx, s, preparationGeometryTable, id)
	if err != nil {
		return err
	}

	rd := row.Reader()
	loaded := PreparationGeometry{
		ID:               rd.UUID("id"),
		Name:             rd.String("name"),
		MinFillHeightMM:  rd.NullFloat("min_fill_height_mm"),
		MaxFillHeightMM:  rd.NullFloat("max_fill_height_mm"),
		InstanceStatusID: rd.NullInt("instance_status_id"),
		Comment:          rd.String("comment"),
		CreateDate:       rd.NullTime("create_date"),
		CreatedBy:        rd.String("created_by"),
		UpdateDate:       rd.NullTime("update_date"),
		UpdatedBy:        rd.String("updated_by"),
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read preparation geometry %s: %w", id, err)
	}
	*g = loaded
	return nil
}

func (g *PreparationGeometry) StoreToDB(ctx context.Context, s *Scope) error {
	update := func() []sql.NamedArg {
		return []sql.NamedArg{
			ports.Arg("id", g.ID.String()),
			ports.Arg("name", nullText(g.Name)),
			ports.Arg("min_fill_height_mm", nullable(g.MinFillHeightMM)),
			ports.Arg("max_fill_height_mm", nullable(g.MaxFillHeightMM)),
			ports.Arg("instance_status_id", nullable(g.InstanceStatusID)),
			ports.Arg("comment", nullText(g.Comment)),
			ports.Arg("update_date", s.Actor.Now),
			ports.Arg("updated_by", nullText(s.Actor.Name)),
		}
	}
	insert := func() []sql.NamedArg {
		return append(update(),
			ports.Arg("create_date", s.Actor.Now),
			ports.Arg("created_by", nullText(s.Actor.Name)),
		)
	}

	op, err := storeRow(ctx, s, preparationGeometryTable, rowWrite{
		id:     g.ID,
		dirty:  g.Dirty,
		insert: insert,
		update: update,
	})
	if err != nil {
		return err
	}
	switch op {
	case domain.AuditInsert:
		g.CreateDate, g.CreatedBy = timePtr(s.Actor.Now), s.Actor.Name
		fallthrough
	case domain.AuditUpdate:
		g.UpdateDate, g.UpdatedBy = timePtr(s.Actor.Now), s.Actor.Name
	}
	g.Dirty = false
	return nil
}
