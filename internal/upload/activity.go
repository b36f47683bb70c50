package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// recordActivity writes an audit entry. Failures are logged only; the
// audited action has already happened.
func recordActivity(ctx context.Context, ledger storage.Ledger, logger *slog.Logger, userID string, action domain.ActivityAction, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil {
		logger.Warn("Failed to encode activity details", slog.Any("error", err))
		raw = nil
	}

	activity := &domain.Activity{
		ActivityID: uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Details:    raw,
		CreatedAt:  time.Now().UTC(),
	}

	if err := ledger.RecordActivity(context.WithoutCancel(ctx), activity); err != nil {
		logger.Warn("Failed to record activity",
			slog.String("user_id", userID),
			slog.String("action", string(action)),
			slog.Any("error", err),
		)
	}
}

// Activities reads a user's audit log.
type Activities struct {
	ledger storage.Ledger
}

// NewActivities creates a new Activities service
func NewActivities(ledger storage.Ledger) *Activities {
	return &Activities{ledger: ledger}
}

// List returns up to filter.PageSize+1 of the user's activities, newest first.
func (s *Activities) List(ctx context.Context, filter storage.ActivityFilter) ([]domain.Activity, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, domain.NewValidationError("to", "to must not be before from")
	}

	activities, err := s.ledger.ListActivities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}
