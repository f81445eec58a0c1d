package domain

import (
	"time"

	"github.com/google/uuid"
)

type APIKey struct {
	TokenHash string
	Name      string
	UserID    uuid.UUID
	Active    bool
	CreatedAt time.Time
}
