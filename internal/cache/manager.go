// Package cache manages the named, versioned cache tiers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// TierConfig names the active tier for each purpose. It is immutable once
// handed to a Manager.
type TierConfig struct {
	Prefix  string
	Version string
}

// Name returns the versioned tier name for purpose.
func (c TierConfig) Name(purpose offline.Purpose) string {
	label := string(purpose)
	if purpose == offline.PurposeImage {
		label = "thumbs"
	}
	return fmt.Sprintf("%s-%s-%s", c.Prefix, label, c.Version)
}

// Names returns the expected tier names in purpose order.
func (c TierConfig) Names() []string {
	names := make([]string, 0, len(offline.Purposes))
	for _, p := range offline.Purposes {
		names = append(names, c.Name(p))
	}
	return names
}

// Manager opens tiers by purpose and reconciles stale ones.
type Manager struct {
	backend offline.TierBackend
	cfg     TierConfig
	logger  *zap.Logger

	mu   sync.Mutex
	open map[offline.Purpose]offline.Tier
}

// NewManager constructs a Manager.
func NewManager(backend offline.TierBackend, cfg TierConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		open:    make(map[offline.Purpose]offline.Tier),
	}
}

// Config returns the tier naming configuration.
func (m *Manager) Config() TierConfig {
	return m.cfg
}

// Open returns the tier for purpose. Handles are memoised for the process lifetime.
func (m *Manager) Open(ctx context.Context, purpose offline.Purpose) (offline.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tier, ok := m.open[purpose]; ok {
		return tier, nil
	}
	name := m.cfg.Name(purpose)
	tier, err := m.backend.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open tier %s: %w", name, err)
	}
	m.open[purpose] = tier
	m.logger.Debug("tier opened", zap.String("tier", name), zap.String("purpose", string(purpose)))
	return tier, nil
}

// Names lists every tier present in the backend.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	names, err := m.backend.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// Reconcile deletes every tier not named in expected and returns the deleted names.
func (m *Manager) Reconcile(ctx context.Context, expected []string) ([]string, error) {
	existing, err := m.backend.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	var deleted []string
	var errs []error
	for _, name := range existing {
		if slices.Contains(expected, name) {
			continue
		}
		if err := m.backend.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete tier %s: %w", name, err))
			continue
		}
		deleted = append(deleted, name)
		m.forget(name)
		m.logger.Info("stale tier deleted", zap.String("tier", name))
	}
	return deleted, errors.Join(errs...)
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for purpose, tier := range m.open {
		if tier.Name() == name {
			delete(m.open, purpose)
		}
	}
}

// Match looks url up across the managed tiers in purpose order.
func (m *Manager) Match(ctx context.Context, url string) (*offline.Response, error) {
	var lastErr error
	for _, purpose := range offline.Purposes {
		tier, err := m.Open(ctx, purpose)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := tier.Match(ctx, url)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, offline.ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, offline.ErrNotFound
}
