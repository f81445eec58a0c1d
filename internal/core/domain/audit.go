package domain

import (
	"encoding/json"
	"time"
)

type EntityKind string

const (
	KindAssignment                  EntityKind = "assignment"
	KindAssignmentSampleType        EntityKind = "assignment_sample_type"
	KindAssignmentPreparationMethod EntityKind = "assignment_preparation_method"
	KindAnalysis                    EntityKind = "analysis"
	KindAnalysisResult              EntityKind = "analysis_result"
	KindPreparationGeometry         EntityKind = "preparation_geometry"
)

func (k EntityKind) Valid() bool {
	switch k {
	case KindAssignment, KindAssignmentSampleType, KindAssignmentPreparationMethod,
		KindAnalysis, KindAnalysisResult, KindPreparationGeometry:
		return true
	}
	return false
}

type AuditOperation string

const (
	AuditInsert AuditOperation = "insert"
	AuditUpdate AuditOperation = "update"
	AuditDelete AuditOperation = "delete"
)

func (o AuditOperation) Valid() bool {
	switch o {
	case AuditInsert, AuditUpdate, AuditDelete:
		return true
	}
	return false
}

// AuditRecord is one row of the append-only audit log.
type AuditRecord struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	EntityKind EntityKind      `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Operation  AuditOperation  `json:"operation"`
	Snapshot   json.RawMessage `json:"snapshot"`
	Note       string          `json:"note"`
	CreatedAt  time.Time       `json:"created_at"`
	CreatedBy  string          `json:"created_by"`
}

type AuditFilter struct {
	EntityKind EntityKind
	EntityID   string
	Operation  AuditOperation
	AfterSeq   int64
	Limit      int
}
