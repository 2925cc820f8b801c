// Package reconciler periodically re-hydrates the Signature Service's
// in-memory LSH index from the durable store, healing drift left behind
// by a crashed or partially failed IndexAPI/RemoveAPI call (spec §7: the
// index and store are allowed to diverge briefly; something must
// eventually reconcile them).
package reconciler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/minhash"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/sigstore"
	"github.com/chartly-platform/gatekeeper/pkg/telemetry"
)

// StoreReader lists every signature row currently durable.
type StoreReader interface {
	GetAll(ctx context.Context) ([]sigstore.Record, error)
}

// IndexInserter is the narrower index surface the reconciler writes to
// directly (it has no original spec bytes to re-run through the Pruner,
// so it inserts signatures the store already computed).
type IndexInserter interface {
	Insert(tenant, apiID string, sig minhash.Signature) error
	Contains(apiID string) bool
	Size() int
}

// Reconciler is a background loop that periodically diffs the store
// against the live index and inserts anything missing.
type Reconciler struct {
	store StoreReader
	index IndexInserter
	width int

	interval time.Duration
	jitter   float64
	logger   *telemetry.Logger

	started atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New constructs a Reconciler. interval defaults to 5 minutes if <= 0;
// jitter (fraction of interval, [0,1)) defaults to 0.1.
func New(store StoreReader, index IndexInserter, width int, interval time.Duration, jitter float64, logger *telemetry.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0.1
	}
	if logger == nil {
		logger = telemetry.Nop
	}
	return &Reconciler{
		store:    store,
		index:    index,
		width:    width,
		interval: interval,
		jitter:   jitter,
		logger:   logger,
		stopCh:   make(chan struct{}),
		rnd:      rand.New(rand.NewSource(1)),
	}
}

// Start launches the reconciliation loop in a goroutine. Safe to call
// once; a second call is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish or ctx to be done.
func (r *Reconciler) Stop(ctx context.Context) error {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		r.ReconcileOnce(ctx)

		select {
		case <-time.After(r.jitterDuration()):
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

// ReconcileOnce performs one pass: every store row not present in the
// live index is inserted directly (the store already holds the
// finished signature, so there is no need to re-run the Pruner/Shingler).
// Rows that fail to deserialize are logged and skipped, mirroring
// Service.hydrate's behavior on initial boot.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (inserted int, skipped int, err error) {
	records, err := r.store.GetAll(ctx)
	if err != nil {
		r.logger.Warn(ctx, "reconciler: failed to list store", map[string]any{"error": err.Error()})
		return 0, 0, err
	}

	for _, rec := range records {
		if r.index.Contains(rec.APIUUID) {
			continue
		}
		sig, err := minhash.FromBytes(rec.Signature)
		if err != nil || len(sig) != r.width {
			skipped++
			r.logger.Warn(ctx, "reconciler: skipping unreadable signature", map[string]any{
				"api_uuid":     rec.APIUUID,
				"organization": rec.Organization,
			})
			continue
		}
		if err := r.index.Insert(rec.Organization, rec.APIUUID, sig); err != nil {
			skipped++
			r.logger.Warn(ctx, "reconciler: insert failed", map[string]any{
				"api_uuid": rec.APIUUID,
				"error":    err.Error(),
			})
			continue
		}
		inserted++
	}

	if inserted > 0 || skipped > 0 {
		r.logger.Info(ctx, "reconciler: pass complete", map[string]any{
			"inserted":   inserted,
			"skipped":    skipped,
			"index_size": r.index.Size(),
		})
	}
	return inserted, skipped, nil
}

func (r *Reconciler) jitterDuration() time.Duration {
	if r.jitter <= 0 {
		return r.interval
	}
	base := float64(r.interval)
	lo := base * (1 - r.jitter)
	hi := base * (1 + r.jitter)
	r.rndMu.Lock()
	u := r.rnd.Float64()
	r.rndMu.Unlock()
	return time.Duration(lo + u*(hi-lo))
}
