package domain

import "github.com/google/uuid"

type Nuclide struct {
	ID   uuid.UUID `yaml:"id" json:"id"`
	Name string    `yaml:"name" json:"name"`
}

type SampleType struct {
	ID   uuid.UUID `yaml:"id" json:"id"`
	Name string    `yaml:"name" json:"name"`
}

type SampleComponent struct {
	ID           uuid.UUID  `yaml:"id" json:"id"`
	SampleTypeID *uuid.UUID `yaml:"sample_type_id" json:"sample_type_id"`
	Name         string     `yaml:"name" json:"name"`
}

// ReferenceData is the lookup data aggregates resolve their names from.
type ReferenceData struct {
	Nuclides         []Nuclide         `yaml:"nuclides" json:"nuclides"`
	SampleTypes      []SampleType      `yaml:"sample_types" json:"sample_types"`
	SampleComponents []SampleComponent `yaml:"sample_components" json:"sample_components"`
}
