package sqldb

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/lims/internal/adapters/sqldb/gormdb"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"gorm.io/gorm/clause"
)

type nuclideModel struct {
	ID   string `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name;not null"`
}

func (nuclideModel) TableName() string {
	return "nuclide"
}

type sampleTypeModel struct {
	ID   string `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name;not null"`
}

func (sampleTypeModel) TableName() string {
	return "sample_type"
}

type sampleComponentModel struct {
	ID           string  `gorm:"column:id;primaryKey"`
	SampleTypeID *string `gorm:"column:sample_type_id"`
	Name         string  `gorm:"column:name;not null"`
}

func (sampleComponentModel) TableName() string {
	return "sample_component"
}

// ReferenceRepository maintains the lookup tables the aggregates project
// names from.
type ReferenceRepository struct {
	db *gormdb.DB
}

func NewReferenceRepository(db *gormdb.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) UpsertReferenceData(ctx context.Context, data domain.ReferenceData) error {
	nuclides := make([]nuclideModel, 0, len(data.Nuclides))
	for _, n := range data.Nuclides {
		nuclides = append(nuclides, nuclideModel{ID: n.ID.String(), Name: n.Name})
	}
	sampleTypes := make([]sampleTypeModel, 0, len(data.SampleTypes))
	for _, t := range data.SampleTypes {
		sampleTypes = append(sampleTypes, sampleTypeModel{ID: t.ID.String(), Name: t.Name})
	}
	components := make([]sampleComponentModel, 0, len(data.SampleComponents))
	for _, c := range data.SampleComponents {
		m := sampleComponentModel{ID: c.ID.String(), Name: c.Name}
		if c.SampleTypeID != nil {
			id := c.SampleTypeID.String()
			m.SampleTypeID = &id
		}
		components = append(components, m)
	}

	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		if len(nuclides) > 0 {
			if err := tx.Clauses(upsert).Create(&nuclides).Error; err != nil {
				return fmt.Errorf("upsert nuclides: %w", err)
			}
		}
		if len(sampleTypes) > 0 {
			if err := tx.Clauses(upsert).Create(&sampleTypes).Error; err != nil {
				return fmt.Errorf("upsert sample types: %w", err)
			}
		}
		if len(components) > 0 {
			componentUpsert := clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"sample_type_id", "name"}),
			}
			if err := tx.Clauses(componentUpsert).Create(&components).Error; err != nil {
				return fmt.Errorf("upsert sample components: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return &domain.StorageError{Op: "upsert reference data", Err: err}
	}
	return nil
}
