package ports

import (
	"context"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

type ReferenceRepository interface {
	UpsertReferenceData(ctx context.Context, data domain.ReferenceData) error
}
