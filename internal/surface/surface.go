// Package surface keeps the notifications currently on display.
//
// Showing a notification under a tag that is already displayed replaces it,
// the way platform notification centres do.
package surface

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// ErrEmptyTitle is returned when Display is called without a title.
var ErrEmptyTitle = errors.New("surface: title is required")

// Surface implements offline.Displayer in memory.
type Surface struct {
	clock  offline.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	shown map[string]offline.DisplayedNotification
	order []string
}

// New builds an empty Surface.
func New(clock offline.Clock, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{
		clock:  clock,
		logger: logger.Named("surface"),
		shown:  make(map[string]offline.DisplayedNotification),
	}
}

// Display shows a notification, replacing any with the same tag.
func (s *Surface) Display(_ context.Context, title string, opts offline.NotificationOptions) error {
	if title == "" {
		return ErrEmptyTitle
	}
	n := offline.DisplayedNotification{
		Title:   title,
		Options: cloneOptions(opts),
		ShownAt: s.clock.Now(),
	}
	s.mu.Lock()
	if _, replaced := s.shown[opts.Tag]; replaced {
		s.removeLocked(opts.Tag)
	}
	s.shown[opts.Tag] = n
	s.order = append(s.order, opts.Tag)
	s.mu.Unlock()

	s.logger.Debug("notification displayed", zap.String("tag", opts.Tag), zap.String("title", title))
	return nil
}

// Get returns the notification displayed under tag.
func (s *Surface) Get(tag string) (offline.DisplayedNotification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.shown[tag]
	return n, ok
}

// List returns the displayed notifications, oldest first.
func (s *Surface) List() []offline.DisplayedNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]offline.DisplayedNotification, 0, len(s.order))
	for _, tag := range s.order {
		out = append(out, s.shown[tag])
	}
	return out
}

// Dismiss closes the notification under tag and returns it.
func (s *Surface) Dismiss(tag string) (offline.DisplayedNotification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.shown[tag]
	if ok {
		s.removeLocked(tag)
	}
	return n, ok
}

func (s *Surface) removeLocked(tag string) {
	delete(s.shown, tag)
	for i, t := range s.order {
		if t == tag {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func cloneOptions(opts offline.NotificationOptions) offline.NotificationOptions {
	out := opts
	if opts.Actions != nil {
		out.Actions = append([]offline.NotificationAction(nil), opts.Actions...)
	}
	return out
}
