// Package dispatcher drains the notification queue onto the display surface.
//
// Every unsent record that is due is displayed and, on success, marked sent
// and announced to the client sessions. A failed display leaves the record
// unsent with a backoff. When the queue holds nothing unsent the dispatcher
// picks a catalog item and shows it instead.
package dispatcher

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/catalog"
	"github.com/JakeFAU/offline-catalog-worker/internal/hash/sha256"
	"github.com/JakeFAU/offline-catalog-worker/internal/metrics"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// MessageShown is broadcast to every session after a queued notification is displayed.
const MessageShown = "NOTIFICATION_SHOWN"

// Defaults used when Config leaves a field empty.
const (
	DefaultAppName         = "TF-Stream"
	DefaultDeepLinkPattern = "/watch/{slug}"
	DefaultBodyLimit       = 120
)

var (
	defaultAllowed  = []string{"film", "série", "serie", "anime", "animé"}
	defaultExcluded = []string{"post"}
)

// Config is fixed at construction.
type Config struct {
	AppName string
	// Placeholder is the absolute icon URL used when a payload has none.
	Placeholder string
	// Scope is the absolute URL deep links resolve against.
	Scope           string
	DeepLinkPattern string
	Allowed         []string
	Excluded        []string
	BodyLimit       int
	// Topic receives a "shown" event per displayed record; empty disables publishing.
	Topic   string
	Backoff Backoff
}

func (c Config) withDefaults() Config {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.DeepLinkPattern == "" {
		c.DeepLinkPattern = DefaultDeepLinkPattern
	}
	if len(c.Allowed) == 0 {
		c.Allowed = defaultAllowed
	}
	if c.Excluded == nil {
		c.Excluded = defaultExcluded
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = DefaultBodyLimit
	}
	return c
}

// CatalogSource supplies the catalog for proactive selection.
type CatalogSource interface {
	Load(ctx context.Context) (catalog.Catalog, error)
}

// Broadcaster posts a message to every session.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg offline.Message) int
}

// Result summarises one queue pass.
type Result struct {
	Unsent    int  `json:"unsent"`
	Shown     int  `json:"shown"`
	Failed    int  `json:"failed"`
	Deferred  int  `json:"deferred"`
	Proactive bool `json:"proactive"`
}

// Dispatcher is safe for concurrent use; passes are serialised.
type Dispatcher struct {
	queue       offline.QueueStore
	display     offline.Displayer
	broadcaster Broadcaster
	publisher   offline.Publisher
	catalog     CatalogSource
	clock       offline.Clock
	cfg         Config
	logger      *zap.Logger

	passMu sync.Mutex
	randMu sync.Mutex
	rand   *rand.Rand
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRand fixes the source used for proactive selection.
func WithRand(r *rand.Rand) Option {
	return func(d *Dispatcher) { d.rand = r }
}

// WithPublisher publishes a "shown" event per displayed record to cfg.Topic.
func WithPublisher(p offline.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// New builds a Dispatcher. broadcaster and source may be nil.
func New(
	queue offline.QueueStore,
	display offline.Displayer,
	broadcaster Broadcaster,
	source CatalogSource,
	clock offline.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:       queue,
		display:     display,
		broadcaster: broadcaster,
		catalog:     source,
		clock:       clock,
		cfg:         cfg.withDefaults(),
		logger:      logger.Named("dispatcher"),
		rand:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProcessQueue displays every due unsent record in store order. It never
// fails: storage and display errors are logged and leave records unsent.
func (d *Dispatcher) ProcessQueue(ctx context.Context) Result {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	var res Result
	records, err := d.queue.ListUnsent(ctx)
	if err != nil {
		d.logger.Error("list unsent failed", zap.Error(err))
		return res
	}
	res.Unsent = len(records)
	metrics.SetQueueUnsent(len(records))

	if len(records) == 0 {
		res.Proactive = d.showProactive(ctx)
		return res
	}

	now := d.clock.Now()
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if !rec.Due(now) {
			res.Deferred++
			continue
		}
		if d.deliver(ctx, rec) {
			res.Shown++
		} else {
			res.Failed++
		}
	}
	d.logger.Debug("queue processed",
		zap.Int("unsent", res.Unsent),
		zap.Int("shown", res.Shown),
		zap.Int("failed", res.Failed),
		zap.Int("deferred", res.Deferred))
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, rec offline.QueuedNotification) bool {
	if err := d.ShowNotification(ctx, rec.Payload); err != nil {
		next := d.clock.Now().Add(d.cfg.Backoff.Delay(rec.Attempts))
		d.logger.Warn("display failed, retry scheduled",
			zap.String("id", rec.ID),
			zap.Int("attempts", rec.Attempts+1),
			zap.Time("next_attempt_at", next),
			zap.Error(err))
		metrics.ObserveNotification("failed")
		if err := d.queue.RecordFailure(ctx, rec.ID, next); err != nil {
			d.logger.Error("record failure failed", zap.String("id", rec.ID), zap.Error(err))
		}
		return false
	}
	if err := d.queue.MarkSent(ctx, rec.ID); err != nil {
		// Displayed but not recorded: the next pass shows it again under the
		// same tag, which replaces rather than duplicates it.
		d.logger.Error("mark sent failed", zap.String("id", rec.ID), zap.Error(err))
		return false
	}
	metrics.ObserveNotification("shown")

	if d.broadcaster != nil {
		d.broadcaster.Broadcast(ctx, offline.Message{Type: MessageShown, Payload: map[string]string{"id": rec.ID}})
	}
	d.publishShown(ctx, rec)
	return true
}

func (d *Dispatcher) publishShown(ctx context.Context, rec offline.QueuedNotification) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	event := map[string]any{
		"id":        rec.ID,
		"tag":       d.Tag(rec.Payload),
		"slug":      rec.Payload.Data.Slug,
		"shown_at":  d.clock.Now().Format(time.RFC3339),
		"attempts":  rec.Attempts + 1,
		"queued_at": rec.CreatedAt.Format(time.RFC3339),
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, event); err != nil {
		d.logger.Warn("publish shown event failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

// ShowNotification normalises payload and displays it immediately.
func (d *Dispatcher) ShowNotification(ctx context.Context, payload offline.NotificationPayload) error {
	title, opts := d.Normalise(payload)
	return d.display.Display(ctx, title, opts)
}

// Normalise fills in the display defaults for payload.
func (d *Dispatcher) Normalise(payload offline.NotificationPayload) (string, offline.NotificationOptions) {
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = d.cfg.AppName
	}
	icon := payload.Icon
	if icon == "" {
		icon = d.cfg.Placeholder
	}
	badge := payload.Badge
	if badge == "" {
		badge = icon
	}
	opts := offline.NotificationOptions{
		Body:     payload.Body,
		Icon:     icon,
		Badge:    badge,
		Image:    payload.Image,
		Tag:      d.Tag(payload),
		Renotify: false,
		Data:     payload.Data,
	}
	if len(payload.Actions) > 0 {
		opts.Actions = append([]offline.NotificationAction(nil), payload.Actions...)
	}
	return title, opts
}

// Tag returns the payload's tag, deriving one from its identity when unset.
func (d *Dispatcher) Tag(payload offline.NotificationPayload) string {
	if payload.Tag != "" {
		return payload.Tag
	}
	if payload.Data.Slug != "" {
		return "slug-" + payload.Data.Slug
	}
	return "n-" + sha256.Joined(16, payload.Title, payload.Body)
}

// DeepLink returns the absolute in-app URL for slug, or the scope root when
// slug is empty.
func (d *Dispatcher) DeepLink(slug string) string {
	path := "/"
	if slug != "" {
		path = strings.ReplaceAll(d.cfg.DeepLinkPattern, "{slug}", slug)
	}
	if link := catalog.Resolve(d.cfg.Scope, path); link != "" {
		return link
	}
	return path
}

func (d *Dispatcher) showProactive(ctx context.Context) bool {
	if d.catalog == nil {
		return false
	}
	doc, err := d.catalog.Load(ctx)
	if err != nil {
		d.logger.Info("no catalog for proactive notification", zap.Error(err))
		return false
	}
	item, ok := d.pick(doc.Items)
	if !ok {
		d.logger.Debug("catalog has no eligible item")
		return false
	}
	if err := d.ShowNotification(ctx, d.ProactivePayload(item)); err != nil {
		d.logger.Warn("proactive display failed", zap.Error(err))
		metrics.ObserveNotification("failed")
		return false
	}
	metrics.ObserveNotification("proactive")
	return true
}

// ProactivePayload builds the notification suggesting item.
func (d *Dispatcher) ProactivePayload(item catalog.Item) offline.NotificationPayload {
	title := item.Title
	if title == "" {
		title = d.cfg.AppName
	}
	body := truncateRunes(item.Description, d.cfg.BodyLimit)
	if body == "" {
		body = title
	}
	slug := item.EffectiveSlug()
	image := catalog.Resolve(d.cfg.Scope, item.Thumbnail)
	return offline.NotificationPayload{
		Title: title,
		Body:  body,
		Image: image,
		Icon:  image,
		Data:  offline.NotificationData{Slug: slug, URL: d.DeepLink(slug)},
	}
}

// pick draws from the allow-listed categories, falling back to any item
// outside the excluded ones.
func (d *Dispatcher) pick(items []catalog.Item) (catalog.Item, bool) {
	var allowed, eligible []catalog.Item
	for _, it := range items {
		c := it.NormalisedCategory()
		if contains(d.cfg.Excluded, c) {
			continue
		}
		eligible = append(eligible, it)
		if contains(d.cfg.Allowed, c) {
			allowed = append(allowed, it)
		}
	}
	pool := allowed
	if len(pool) == 0 {
		pool = eligible
	}
	if len(pool) == 0 {
		return catalog.Item{}, false
	}
	d.randMu.Lock()
	i := d.rand.IntN(len(pool))
	d.randMu.Unlock()
	return pool[i], true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
