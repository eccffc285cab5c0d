// Package pending holds PendingSession entries between prepare and confirm.
// Entries are short-lived; the memory store does not survive a restart.
package pending

import (
	"context"
	"errors"
	"time"

	"github.com/streampay/backend/internal/models"
)

var ErrNotFound = errors.New("pending session not found or expired")

type Store interface {
	Put(ctx context.Context, p *models.PendingSession, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.PendingSession, error)
	// Take returns and removes the entry. Only one caller can take a given id.
	Take(ctx context.Context, id string) (*models.PendingSession, error)
	Delete(ctx context.Context, id string) error
}
