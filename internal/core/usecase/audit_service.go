package usecase

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

type AuditService struct {
	repo ports.AuditTrailRepository
}

func NewAuditService(repo ports.AuditTrailRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	if filter.EntityKind != "" && !filter.EntityKind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrInvalidFilter, filter.EntityKind)
	}
	if filter.Operation != "" && !filter.Operation.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidFilter, filter.Operation)
	}
	if filter.EntityID != "" {
		if _, err := uuid.Parse(filter.EntityID); err != nil {
			return nil, fmt.Errorf("%w: entity id: %v", domain.ErrInvalidFilter, err)
		}
	}
	if filter.AfterSeq < 0 {
		return nil, fmt.Errorf("%w: negative cursor", domain.ErrInvalidFilter)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	return s.repo.List(ctx, filter)
}
