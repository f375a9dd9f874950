package prefetch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/offline-catalog-worker/internal/catalog"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Reconciler deletes every tier not in expected.
type Reconciler interface {
	Reconcile(ctx context.Context, expected []string) ([]string, error)
}

// ShellSet returns the absolute shell URLs precached at install. The offline
// document and placeholder are always members.
func ShellSet(scope, offlineDocument, placeholder string) []string {
	candidates := []string{"/", "/index.html", "/manifest.json", offlineDocument, placeholder}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		abs := catalog.Resolve(scope, c)
		if abs == "" {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

// InstallReport summarises an install.
type InstallReport struct {
	ShellStored []string `json:"shell_stored"`
	ShellFailed []string `json:"shell_failed"`
	Prefetch    Report   `json:"prefetch"`
}

// Installer runs the install and activate phases.
type Installer struct {
	tiers      Tiers
	reconciler Reconciler
	fetcher    offline.Fetcher
	store      Storer
	prefetcher *Prefetcher
	shell      []string
	expected   []string
	logger     *zap.Logger
}

// NewInstaller builds an Installer. expected holds the tier names that
// survive activation.
func NewInstaller(
	tiers Tiers,
	reconciler Reconciler,
	fetcher offline.Fetcher,
	store Storer,
	prefetcher *Prefetcher,
	shell []string,
	expected []string,
	logger *zap.Logger,
) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{
		tiers:      tiers,
		reconciler: reconciler,
		fetcher:    fetcher,
		store:      store,
		prefetcher: prefetcher,
		shell:      append([]string(nil), shell...),
		expected:   append([]string(nil), expected...),
		logger:     logger.Named("install"),
	}
}

// Install precaches the shell, each URL on its own, then prefetches the
// catalog. Only an unopenable shell tier is an error.
func (i *Installer) Install(ctx context.Context) (InstallReport, error) {
	var report InstallReport
	tier, err := i.tiers.Open(ctx, offline.PurposeShell)
	if err != nil {
		return report, fmt.Errorf("install: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, url := range i.shell {
		g.Go(func() error {
			err := i.precache(ctx, tier, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.ShellFailed = append(report.ShellFailed, url)
				i.logger.Warn("shell precache failed", zap.String("url", url), zap.Error(err))
				return nil
			}
			report.ShellStored = append(report.ShellStored, url)
			return nil
		})
	}
	_ = g.Wait()

	if i.prefetcher != nil {
		report.Prefetch = i.prefetcher.Run(ctx)
	}
	i.logger.Info("install complete",
		zap.Int("shell_stored", len(report.ShellStored)),
		zap.Int("shell_failed", len(report.ShellFailed)))
	return report, nil
}

func (i *Installer) precache(ctx context.Context, tier offline.Tier, url string) error {
	resp, err := i.fetcher.Fetch(ctx, revalidate(url))
	if err != nil {
		return err
	}
	return i.store.Store(ctx, tier, url, resp)
}

// Activate deletes stale tiers and returns their names.
func (i *Installer) Activate(ctx context.Context) ([]string, error) {
	deleted, err := i.reconciler.Reconcile(ctx, i.expected)
	if err != nil {
		return deleted, fmt.Errorf("activate: %w", err)
	}
	i.logger.Info("activated", zap.Strings("deleted", deleted))
	return deleted, nil
}
