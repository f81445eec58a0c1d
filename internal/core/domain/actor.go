package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActorContext carries the acting user and the timestamp used to stamp
// creation and update metadata during one Load/Store call.
type ActorContext struct {
	Name   string
	UserID uuid.UUID
	Now    time.Time
}

func NewActorContext(name string, userID uuid.UUID, now time.Time) ActorContext {
	return ActorContext{Name: name, UserID: userID, Now: now.UTC()}
}
