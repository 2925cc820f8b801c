package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/features"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/lshindex"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/minhash"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/shingle"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/sigstore"
	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
	"github.com/chartly-platform/gatekeeper/pkg/telemetry"
)

const (
	MinThreshold     = 0.5
	MaxThreshold     = 1.0
	DefaultThreshold = 0.95
	HighConfidence   = 0.95
)

// Config parameterizes a Service. Width/Bands/Seed are fixed for the
// lifetime of the process (spec §3 invariant: signature width constant).
type Config struct {
	Width   int // H
	Bands   int // B
	Seed    int64
	Logger  *telemetry.Logger
	Emitter EventEmitter   // optional; receives canonical lifecycle events
	Meter   telemetry.Meter // optional; defaults to telemetry.NopMeterInstance
}

// DefaultConfig returns the spec's documented defaults (H=128, B=16, seed=42).
func DefaultConfig() Config {
	return Config{Width: minhash.DefaultWidth, Bands: lshindex.DefaultBands, Seed: minhash.DefaultSeed}
}

// Service is the Signature Service orchestrator (spec §4.6). It is
// intended to be constructed once per process and shared; Initialize must
// be called before any query is served (spec §5: first call to
// initialize() completes before any admission query proceeds).
type Service struct {
	cfg Config
	gen *minhash.Generator
	idx *lshindex.Index
	db  sigstore.Store

	initOnce sync.Once
	initErr  error
	logger   *telemetry.Logger
	meter    telemetry.Meter
}

// New constructs a Service. It does not touch the store; call Initialize
// to hydrate the index.
func New(cfg Config, db sigstore.Store) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: signature store is required", gkerrors.InvalidInput)
	}
	if cfg.Width <= 0 {
		cfg.Width = minhash.DefaultWidth
	}
	if cfg.Bands <= 0 {
		cfg.Bands = lshindex.DefaultBands
	}
	if cfg.Seed == 0 {
		cfg.Seed = minhash.DefaultSeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Nop
	}
	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.NopMeterInstance
	}

	gen, err := minhash.New(cfg.Width, cfg.Seed)
	if err != nil {
		return nil, err
	}
	idx, err := lshindex.New(cfg.Width, cfg.Bands, logger)
	if err != nil {
		return nil, err
	}

	return &Service{cfg: cfg, gen: gen, idx: idx, db: db, logger: logger, meter: meter}, nil
}

var opLatencyBuckets = telemetry.DefaultHistogramBuckets()

// recordOp increments a per-action, per-outcome counter and observes the
// operation's wall-clock latency. Meter errors (e.g. an invalid label) are
// logged, never surfaced to the caller — metrics are observability, not a
// correctness dependency.
func (s *Service) recordOp(ctx context.Context, action, outcome, tenant string, since time.Time) {
	labels := telemetry.Labels{"action": action, "outcome": outcome, "tenant": tenant}
	if err := telemetry.IncCounter(s.meter, ctx, "gatekeeper_admission_total", 1, labels); err != nil {
		s.logger.Warn(ctx, "service: metric emit failed", map[string]any{"error": err.Error(), "metric": "gatekeeper_admission_total"})
	}
	elapsed := time.Since(since).Seconds()
	if err := telemetry.ObserveHistogram(s.meter, ctx, "gatekeeper_admission_duration_seconds", elapsed, opLatencyBuckets, telemetry.Labels{"action": action}); err != nil {
		s.logger.Warn(ctx, "service: metric emit failed", map[string]any{"error": err.Error(), "metric": "gatekeeper_admission_duration_seconds"})
	}
}

// Initialize reads all signatures from the store and populates the index.
// Rows that fail to deserialize are logged and skipped, never fatal.
// Idempotent: subsequent calls are no-ops that return the first call's
// result (double-checked publication via sync.Once, per spec §5).
func (s *Service) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.hydrate(ctx)
	})
	return s.initErr
}

func (s *Service) hydrate(ctx context.Context) error {
	records, err := s.db.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: hydrate: %v", gkerrors.StorageError, err)
	}
	for _, rec := range records {
		sig, err := minhash.FromBytes(rec.Signature)
		if err != nil {
			s.logger.Warn(ctx, "sigstore: skipping corrupt signature on hydration", map[string]any{
				"api_uuid":     rec.APIUUID,
				"organization": rec.Organization,
				"error":        err.Error(),
			})
			continue
		}
		if len(sig) != s.cfg.Width {
			s.logger.Warn(ctx, "sigstore: skipping signature with wrong width on hydration", map[string]any{
				"api_uuid":     rec.APIUUID,
				"organization": rec.Organization,
				"width":        len(sig),
				"expected":     s.cfg.Width,
			})
			continue
		}
		if err := s.idx.Insert(rec.Organization, rec.APIUUID, sig); err != nil {
			s.logger.Warn(ctx, "sigstore: skipping signature that failed index insert on hydration", map[string]any{
				"api_uuid":     rec.APIUUID,
				"organization": rec.Organization,
				"error":        err.Error(),
			})
		}
	}
	return nil
}

// GenerateSignature runs Pruner -> Shingler -> MinHash and yields a DTO.
func (s *Service) GenerateSignature(spec []byte, apiID, tenant string) (SignatureDTO, error) {
	feats, err := features.Extract(spec)
	if err != nil {
		return SignatureDTO{}, err
	}
	shingles := shingle.Shingles(feats)
	sig := s.gen.Sign(shingles)
	return newSignatureDTO(apiID, tenant, sig, len(feats), len(shingles)), nil
}

// CheckForDuplicates validates threshold (silently clamping out-of-range
// values to DefaultThreshold), generates the query signature without
// inserting it, and returns the filtered, self-excluded match list.
func (s *Service) CheckForDuplicates(ctx context.Context, spec []byte, apiID, tenant string, threshold float64) (DedupResult, error) {
	start := time.Now()
	if threshold < MinThreshold || threshold > MaxThreshold {
		threshold = DefaultThreshold
	}

	dto, err := s.GenerateSignature(spec, apiID, tenant)
	if err != nil {
		s.recordOp(ctx, "check", "error", tenant, start)
		return DedupResult{}, err
	}

	matches, err := s.idx.FindSimilar(tenant, dto.signature, threshold)
	if err != nil {
		s.recordOp(ctx, "check", "error", tenant, start)
		return DedupResult{}, err
	}

	reports := make([]ConflictReport, 0, len(matches))
	highConfidence := false
	for _, m := range matches {
		if m.APIID == apiID {
			continue // self-match exclusion (spec §4.6, Open Question 2)
		}
		if m.Similarity >= HighConfidence {
			highConfidence = true
		}
		reports = append(reports, ConflictReport{
			MatchedAPIUUID:  m.APIID,
			SimilarityScore: m.Similarity,
			Message:         fmt.Sprintf("candidate %s has estimated similarity %.4f", m.APIID, m.Similarity),
			Recommendation:  recommendationFor(m.Similarity),
		})
	}

	outcome := "clean"
	if len(reports) > 0 {
		outcome = "flagged"
	}
	s.recordOp(ctx, "check", outcome, tenant, start)

	return DedupResult{
		IsDuplicate:     len(reports) > 0,
		HighConfidence:  highConfidence,
		ConflictReports: reports,
		QueryAPIUUID:    apiID,
		Organization:    tenant,
		Threshold:       threshold,
		Message:         dedupMessage(len(reports)),
	}, nil
}

func recommendationFor(similarity float64) string {
	if similarity >= HighConfidence {
		return "reuse existing API or reject submission"
	}
	return "review candidate before publishing a new version"
}

func dedupMessage(n int) string {
	if n == 0 {
		return "no near-duplicate APIs found"
	}
	if n == 1 {
		return "1 near-duplicate API found"
	}
	return fmt.Sprintf("%d near-duplicate APIs found", n)
}

// IndexAPI generates a signature, inserts it into the LSH index, and
// upserts it into the durable store. Both side effects are attempted even
// if one fails; the index is a cache of the store and is reconciled on the
// next Initialize (spec §4.6, §7).
func (s *Service) IndexAPI(ctx context.Context, spec []byte, apiID, tenant string) (SignatureDTO, error) {
	start := time.Now()
	dto, err := s.GenerateSignature(spec, apiID, tenant)
	if err != nil {
		s.recordOp(ctx, "index", "error", tenant, start)
		return SignatureDTO{}, err
	}

	idxErr := s.idx.Insert(tenant, apiID, dto.signature)
	storeErr := s.db.Upsert(ctx, sigstore.Record{
		APIUUID:      apiID,
		Organization: tenant,
		Signature:    minhash.ToBytes(dto.signature),
	})

	if idxErr != nil {
		s.recordOp(ctx, "index", "error", tenant, start)
		return dto, idxErr
	}
	if storeErr != nil {
		s.recordOp(ctx, "index", "error", tenant, start)
		return dto, storeErr
	}
	s.recordOp(ctx, "index", "ok", tenant, start)
	return dto, nil
}

// UpdateAPI removes then re-inserts into the LSH index, and upserts the
// store.
func (s *Service) UpdateAPI(ctx context.Context, spec []byte, apiID, tenant string) (SignatureDTO, error) {
	s.idx.Remove(apiID)
	return s.IndexAPI(ctx, spec, apiID, tenant)
}

// RemoveAPI removes from the index and deletes from the store.
func (s *Service) RemoveAPI(ctx context.Context, apiID, tenant string) error {
	start := time.Now()
	s.idx.Remove(apiID)
	if err := s.db.Delete(ctx, apiID, tenant); err != nil {
		s.recordOp(ctx, "remove", "error", tenant, start)
		return err
	}
	s.recordOp(ctx, "remove", "ok", tenant, start)
	return nil
}

// GetIndexSize reports the number of signatures currently held in memory.
func (s *Service) GetIndexSize() int {
	return s.idx.Size()
}

// GetSignature returns the in-memory signature for apiID, if present.
func (s *Service) GetSignature(apiID string) (minhash.Signature, bool) {
	return s.idx.GetSignature(apiID)
}

// Index exposes the in-memory LSH index so operational components
// (reconciler, health checks) can observe or heal it without the Service
// needing to know about them.
func (s *Service) Index() *lshindex.Index { return s.idx }

// Store exposes the durable Signature Store backing this Service, for
// components that need direct read access (reconciler, schema bootstrap).
func (s *Service) Store() sigstore.Store { return s.db }

// ---- event notifications (spec §6 ingress) ----

// LifecycleStatus is the set of API lifecycle statuses recognized by
// OnAPILifecycleChange. Only PUBLISHED triggers indexing.
type LifecycleStatus string

const (
	LifecyclePublished LifecycleStatus = "PUBLISHED"
	LifecycleDraft      LifecycleStatus = "DRAFT"
	LifecycleDeprecated LifecycleStatus = "DEPRECATED"
	LifecycleRetired    LifecycleStatus = "RETIRED"
)

// OnAPICreate indexes a newly created API.
func (s *Service) OnAPICreate(ctx context.Context, spec []byte, apiID, tenant string) error {
	_, err := s.IndexAPI(ctx, spec, apiID, tenant)
	s.emitLifecycleEvent(EventTypeAPICreate, apiID, tenant, "")
	return err
}

// OnAPIUpdate re-indexes an updated API.
func (s *Service) OnAPIUpdate(ctx context.Context, spec []byte, apiID, tenant string) error {
	_, err := s.UpdateAPI(ctx, spec, apiID, tenant)
	s.emitLifecycleEvent(EventTypeAPIUpdate, apiID, tenant, "")
	return err
}

// OnAPIDelete removes an API from the index and store.
func (s *Service) OnAPIDelete(ctx context.Context, apiID, tenant string) error {
	err := s.RemoveAPI(ctx, apiID, tenant)
	s.emitLifecycleEvent(EventTypeAPIDelete, apiID, tenant, "")
	return err
}

// OnAPILifecycleChange indexes the API only when status transitions to
// PUBLISHED; all other statuses are observed but ignored. The
// notification itself is emitted regardless of status.
func (s *Service) OnAPILifecycleChange(ctx context.Context, spec []byte, apiID, tenant string, status LifecycleStatus) error {
	s.emitLifecycleEvent(EventTypeAPILifecycleChange, apiID, tenant, status)
	if status != LifecyclePublished {
		return nil
	}
	_, err := s.IndexAPI(ctx, spec, apiID, tenant)
	return err
}
