package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/planthub-poller/internal/models"
	"github.com/kjstillabower/planthub-poller/internal/observability"
	"github.com/kjstillabower/planthub-poller/internal/store"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

const (
	// DefaultStoreKey is the snapshot store key when none is configured.
	DefaultStoreKey = "current"

	defaultConcurrency = 4
	defaultStoreTTL    = 24 * time.Hour
	storeOpTimeout     = 5 * time.Second

	outcomeSuccess   = "success"
	outcomePartial   = "partial"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Plant is one configured plant.
type Plant struct {
	ID          string
	DisplayName string
}

// FetchRecorder receives per-plant fetch outcomes. *traffic.Tracker implements it.
type FetchRecorder interface {
	RecordFetchSuccess()
	RecordFetchError()
}

// Options configures a Coordinator. Zero values pick defaults.
type Options struct {
	Plants []Plant

	// Concurrency bounds parallel per-plant fetches. 1 fetches sequentially.
	Concurrency int
	// RefreshTimeout bounds one whole cycle. Zero means no bound beyond the caller's context.
	RefreshTimeout time.Duration

	// Placeholders supplies records when no plants are configured. Nil disables placeholders.
	Placeholders PlaceholderPolicy

	Store    store.SnapshotStore
	StoreKey string
	StoreTTL time.Duration

	Recorder FetchRecorder
	Logger   *zap.Logger
	Now      func() time.Time
}

// Coordinator refreshes plant data and publishes it as an immutable Snapshot.
// Readers never block: they load the current pointer.
type Coordinator struct {
	fetcher webhook.Fetcher
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	ids   []string
	names map[string]string

	current    atomic.Pointer[models.Snapshot]
	authFailed atomic.Bool
	group      singleflight.Group

	stopCtx context.Context
	stop    context.CancelFunc
}

// ErrStopped is returned by Refresh once Stop has been called.
var ErrStopped = errors.New("coordinator stopped")

// New creates a Coordinator. Nothing is published until the first Refresh or Restore.
func New(fetcher webhook.Fetcher, opts Options) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.StoreKey == "" {
		opts.StoreKey = DefaultStoreKey
	}
	if opts.StoreTTL <= 0 {
		opts.StoreTTL = defaultStoreTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	stopCtx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		fetcher: fetcher,
		opts:    opts,
		logger:  opts.Logger,
		now:     opts.Now,
		names:   make(map[string]string, len(opts.Plants)),
		stopCtx: stopCtx,
		stop:    stop,
	}
	for _, p := range opts.Plants {
		if _, dup := c.names[p.ID]; dup {
			continue
		}
		c.ids = append(c.ids, p.ID)
		c.names[p.ID] = p.DisplayName
	}
	return c
}

// CurrentSnapshot returns the last published snapshot, or nil before the first one.
func (c *Coordinator) CurrentSnapshot() *models.Snapshot {
	return c.current.Load()
}

// Plant returns the current record for id. Nil when unknown or when its last fetch failed.
func (c *Coordinator) Plant(id string) *models.PlantRecord {
	return c.current.Load().Plant(id)
}

// PlantName returns the configured display name, then the record's name, then the id.
func (c *Coordinator) PlantName(id string) string {
	if name := c.names[id]; name != "" {
		return name
	}
	if rec := c.Plant(id); rec != nil && rec.PlantName != "" {
		return rec.PlantName
	}
	return id
}

// AuthFailed reports whether the last cycle hit an auth error. Cleared by a
// cycle that completes without one.
func (c *Coordinator) AuthFailed() bool {
	return c.authFailed.Load()
}

// Restore publishes the persisted snapshot, marked stale, when nothing has
// been published yet. It reports whether a snapshot was restored.
func (c *Coordinator) Restore(ctx context.Context) bool {
	if c.opts.Store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()

	snap, ok, err := c.opts.Store.Load(ctx, c.opts.StoreKey)
	if err != nil {
		observability.SnapshotStoreErrorsTotal.WithLabelValues("load").Inc()
		c.logger.Warn("snapshot restore failed", zap.Error(err))
		return false
	}
	if !ok || snap == nil {
		return false
	}
	restored := *snap
	restored.Stale = true
	if !c.current.CompareAndSwap(nil, &restored) {
		return false
	}
	c.recordPublished(&restored)
	c.logger.Info("restored snapshot",
		zap.Int("plants", len(restored.Order)),
		zap.Time("last_update", restored.LastUpdate),
	)
	return true
}

// Stop cancels the cycle in flight, which then publishes nothing. Later
// Refresh calls return ErrStopped.
func (c *Coordinator) Stop() {
	c.stop()
}

// Refresh runs one refresh cycle and publishes its snapshot. Concurrent calls
// share the cycle already in flight. ctx only bounds how long this caller
// waits: the cycle keeps running for the other callers and ends on its own
// RefreshTimeout or on Stop. Webhook failures never surface here, they are
// recorded in the snapshot.
func (c *Coordinator) Refresh(ctx context.Context) (*models.Snapshot, error) {
	if c.stopCtx.Err() != nil {
		return nil, ErrStopped
	}
	// Values such as the request logger carry over, cancellation does not.
	cycleCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.refresh(cycleCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) refresh(parent context.Context) (*models.Snapshot, error) {
	start := c.now()
	cycleID := uuid.NewString()
	logger := c.logger.With(zap.String("cycle_id", cycleID))

	ctx, cancel := context.WithCancel(observability.WithCorrelationID(parent, cycleID))
	defer cancel()
	stopWatch := context.AfterFunc(c.stopCtx, cancel)
	defer stopWatch()

	ctx, span := observability.Tracer().Start(ctx, "coordinator.refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("planthub.cycle_id", cycleID),
		attribute.String("planthub.mode", string(c.fetcher.Mode())),
	)

	if c.opts.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RefreshTimeout)
		defer cancel()
	}

	snap, outcome, cycleErr := c.collect(ctx, start, logger)
	duration := time.Since(start)
	observability.RefreshDuration.Observe(duration.Seconds())

	if c.stopCtx.Err() != nil {
		observability.RefreshesTotal.WithLabelValues(outcomeCancelled).Inc()
		span.SetStatus(codes.Error, "cancelled")
		logger.Info("refresh cancelled, keeping previous snapshot")
		return nil, ErrStopped
	}

	observability.RefreshesTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("planthub.outcome", outcome))
	if cycleErr != nil {
		span.RecordError(cycleErr)
		span.SetStatus(codes.Error, snap.Error)
		logger.Error("refresh failed", zap.Error(cycleErr), zap.Int("placeholders", len(snap.Order)))
	} else {
		logger.Info("refresh complete",
			zap.String("outcome", outcome),
			zap.Int("plants", len(snap.Order)),
			zap.Int("unavailable", snap.Unavailable()),
			zap.Duration("duration", duration),
		)
	}

	c.current.Store(snap)
	c.recordPublished(snap)
	c.save(ctx, snap, logger)
	return snap, nil
}

// collect fetches every plant and assembles the cycle's snapshot.
func (c *Coordinator) collect(ctx context.Context, start time.Time, logger *zap.Logger) (*models.Snapshot, string, error) {
	batch := c.fetcher.Mode() == webhook.ModeBatch
	if !batch && len(c.ids) == 0 {
		c.authFailed.Store(false)
		return c.placeholderSnapshot(start), outcomeSuccess, nil
	}

	sess, err := c.fetcher.Open(ctx)
	if err != nil {
		c.noteAuth(err)
		return c.failed(start, fmt.Errorf("open session: %w", err)), outcomeFailed, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("closing webhook session", zap.Error(cerr))
		}
	}()

	if batch {
		return c.collectBatch(ctx, sess, start)
	}
	return c.collectEach(ctx, sess, start, logger)
}

func (c *Coordinator) collectBatch(ctx context.Context, sess webhook.Session, start time.Time) (*models.Snapshot, string, error) {
	records, err := sess.FetchAll(ctx)
	if err != nil {
		c.recordFetch(err)
		c.noteAuth(err)
		return c.failed(start, err), outcomeFailed, err
	}
	ids := make([]string, len(records))
	ptrs := make([]*models.PlantRecord, len(records))
	for i := range records {
		c.recordFetch(nil)
		ids[i] = records[i].PlantID
		ptrs[i] = &records[i]
	}
	c.authFailed.Store(false)
	return models.NewSnapshot(start, ids, ptrs), outcomeSuccess, nil
}

func (c *Coordinator) collectEach(ctx context.Context, sess webhook.Session, start time.Time, logger *zap.Logger) (*models.Snapshot, string, error) {
	records := make([]*models.PlantRecord, len(c.ids))
	errs := make([]error, len(c.ids))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, id := range c.ids {
		i, id := i, id
		g.Go(func() error {
			rec, err := sess.FetchPlant(ctx, id)
			c.recordFetch(err)
			if err != nil {
				errs[i] = err
				logger.Warn("plant fetch failed",
					zap.String("plant_id", id),
					zap.String("category", string(webhook.CategorizeError(err))),
					zap.Error(err),
				)
				return nil
			}
			records[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	var lastErr error
	authSeen := false
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		lastErr = err
		if errors.Is(err, webhook.ErrAuth) {
			authSeen = true
		}
	}
	c.authFailed.Store(authSeen)

	switch {
	case failures == 0:
		return models.NewSnapshot(start, c.ids, records), outcomeSuccess, nil
	case failures < len(c.ids):
		return models.NewSnapshot(start, c.ids, records), outcomePartial, nil
	default:
		err := fmt.Errorf("all %d plant fetches failed: %w", failures, lastErr)
		return c.failed(start, err), outcomeFailed, err
	}
}

// failed builds the snapshot for a failed cycle: placeholders for every known id.
func (c *Coordinator) failed(start time.Time, err error) *models.Snapshot {
	ids := c.knownIDs()
	var snap *models.Snapshot
	if len(ids) == 0 {
		snap = c.placeholderSnapshot(start)
	} else {
		records := make([]*models.PlantRecord, len(ids))
		for i, id := range ids {
			rec := models.Placeholder(id, c.PlantName(id), start)
			records[i] = &rec
		}
		snap = models.NewSnapshot(start, ids, records)
	}
	snap.Error = err.Error()
	return snap
}

func (c *Coordinator) placeholderSnapshot(start time.Time) *models.Snapshot {
	if c.opts.Placeholders == nil {
		return models.NewSnapshot(start, nil, nil)
	}
	recs := c.opts.Placeholders(start)
	ids := make([]string, len(recs))
	ptrs := make([]*models.PlantRecord, len(recs))
	for i := range recs {
		ids[i] = recs[i].PlantID
		ptrs[i] = &recs[i]
	}
	return models.NewSnapshot(start, ids, ptrs)
}

// knownIDs is the configured ids followed by any other ids of the previous snapshot.
func (c *Coordinator) knownIDs() []string {
	ids := append([]string(nil), c.ids...)
	prev := c.current.Load()
	if prev == nil {
		return ids
	}
	for _, id := range prev.Order {
		if _, configured := c.names[id]; !configured {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Coordinator) noteAuth(err error) {
	c.authFailed.Store(errors.Is(err, webhook.ErrAuth))
}

func (c *Coordinator) recordFetch(err error) {
	if c.opts.Recorder == nil {
		return
	}
	if err != nil {
		c.opts.Recorder.RecordFetchError()
		return
	}
	c.opts.Recorder.RecordFetchSuccess()
}

func (c *Coordinator) recordPublished(snap *models.Snapshot) {
	observability.PlantsPublished.Set(float64(len(snap.Order)))
	observability.PlantsUnavailable.Set(float64(snap.Unavailable()))
	for _, id := range snap.Order {
		var moisture *float64
		if rec := snap.Plants[id]; rec != nil {
			moisture = rec.SoilMoisture
		}
		observability.RecordSoilMoisture(id, moisture)
	}
}

// save persists snap. It outlives the cycle's deadline so a slow last fetch
// does not cost the save.
func (c *Coordinator) save(ctx context.Context, snap *models.Snapshot, logger *zap.Logger) {
	if c.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeOpTimeout)
	defer cancel()
	if err := c.opts.Store.Save(ctx, c.opts.StoreKey, snap, c.opts.StoreTTL); err != nil {
		observability.SnapshotStoreErrorsTotal.WithLabelValues("save").Inc()
		logger.Warn("snapshot save failed", zap.Error(err))
	}
}
