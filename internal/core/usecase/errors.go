package usecase

import (
	"errors"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
