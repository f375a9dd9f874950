package server

import (
	"context"
	"fmt"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Enqueue persists payload without displaying it; the next queue pass shows it.
func (a *App) Enqueue(ctx context.Context, payload offline.NotificationPayload) (offline.QueuedNotification, error) {
	rec, err := a.queue.Enqueue(ctx, payload)
	if err != nil {
		return offline.QueuedNotification{}, fmt.Errorf("enqueue: %w", err)
	}
	return rec, nil
}

// CacheNames lists every tier present in the tier backend.
func (a *App) CacheNames(ctx context.Context) ([]string, error) {
	return a.tiers.Names(ctx)
}
