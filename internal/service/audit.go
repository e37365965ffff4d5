package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	clock clock.Clock
}

func NewAuditService(c clock.Clock) *AuditService {
	if c == nil {
		c = clock.New()
	}
	return &AuditService{clock: c}
}

// Write stores a single immutable audit record inside the caller's transaction.
func (s *AuditService) Write(ctx context.Context, q repository.Queries, entityType string, entityID uuid.UUID, actorID *string, action, prevState, nextState string, metadata any) error {
	var raw json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		raw = b
	}

	if err := q.InsertAuditLog(ctx, models.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
		Metadata:   raw,
		CreatedAt:  s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
