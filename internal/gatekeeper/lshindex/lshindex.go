// Package lshindex is an in-memory, multi-tenant locality-sensitive-hashing
// index over MinHash signatures. It answers "which stored APIs are likely
// near-duplicates of this one" by bucketing signatures into bands and
// verifying candidates with a full-signature similarity estimate.
package lshindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/minhash"
	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
	"github.com/chartly-platform/gatekeeper/pkg/telemetry"
)

const (
	DefaultWidth = 128
	DefaultBands = 16
)

// Match is a candidate API and its estimated similarity to the query.
type Match struct {
	APIID      string
	Similarity float64
}

// Index is guarded by a single shared-exclusive lock (spec §5, option (a)):
// reads take RLock, writes take Lock. Writes are observed as fully old or
// fully new, never partial, because every band bucket for a given key is
// mutated while holding the same exclusive lock.
type Index struct {
	mu sync.RWMutex

	width int
	bands int
	rows  int // R = floor(width/bands)

	// band[b][bandKey] -> set of api_id
	band []map[string]map[string]struct{}

	signatures map[string]minhash.Signature
	tenants    map[string]string

	logger *telemetry.Logger
	warned bool
}

// New constructs an empty index for the given (width, bands). If width is
// not evenly divisible by bands, R is floored and the trailing width%bands
// cells are ignored uniformly for every signature — a warning is logged
// once on first use, not at construction (construction doesn't yet know
// whether any signature will ever be inserted).
func New(width, bands int, logger *telemetry.Logger) (*Index, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: index width must be positive", gkerrors.InvalidInput)
	}
	if bands <= 0 {
		return nil, fmt.Errorf("%w: index band count must be positive", gkerrors.InvalidInput)
	}
	rows := width / bands
	if rows <= 0 {
		return nil, fmt.Errorf("%w: band count %d exceeds width %d", gkerrors.InvalidInput, bands, width)
	}

	bandMaps := make([]map[string]map[string]struct{}, bands)
	for i := range bandMaps {
		bandMaps[i] = make(map[string]map[string]struct{})
	}

	return &Index{
		width:      width,
		bands:      bands,
		rows:       rows,
		band:       bandMaps,
		signatures: make(map[string]minhash.Signature),
		tenants:    make(map[string]string),
		logger:     logger,
	}, nil
}

func (idx *Index) maybeWarnTrailing() {
	if idx.width%idx.bands == 0 || idx.warned {
		return
	}
	idx.warned = true
	if idx.logger != nil {
		idx.logger.Warn(context.Background(), "lshindex: width not evenly divisible by bands, trailing cells ignored", map[string]any{
			"width":         idx.width,
			"bands":         idx.bands,
			"rows_per_band": idx.rows,
		})
	}
}

func bandKey(sig minhash.Signature, start, rows int) string {
	var b strings.Builder
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.FormatUint(uint64(sig[start+i]), 10))
	}
	return b.String()
}

// Insert replaces any existing entry for apiID atomically: prior band
// memberships are removed before new ones are added, under one exclusive
// lock acquisition, so no intermediate state is observable by readers.
func (idx *Index) Insert(tenant, apiID string, sig minhash.Signature) error {
	if len(sig) != idx.width {
		return fmt.Errorf("%w: signature has %d cells, index width is %d", gkerrors.LengthMismatch, len(sig), idx.width)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.maybeWarnTrailing()
	idx.removeLocked(apiID)

	idx.signatures[apiID] = sig
	idx.tenants[apiID] = tenant
	for b := 0; b < idx.bands; b++ {
		key := bandKey(sig, b*idx.rows, idx.rows)
		bucket, ok := idx.band[b][key]
		if !ok {
			bucket = make(map[string]struct{})
			idx.band[b][key] = bucket
		}
		bucket[apiID] = struct{}{}
	}
	return nil
}

// Remove deletes apiID's signature and every band membership. Removing an
// unknown apiID is a no-op, not an error.
func (idx *Index) Remove(apiID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(apiID)
}

func (idx *Index) removeLocked(apiID string) {
	sig, ok := idx.signatures[apiID]
	if !ok {
		return
	}
	for b := 0; b < idx.bands; b++ {
		key := bandKey(sig, b*idx.rows, idx.rows)
		bucket, ok := idx.band[b][key]
		if !ok {
			continue
		}
		delete(bucket, apiID)
		if len(bucket) == 0 {
			delete(idx.band[b], key)
		}
	}
	delete(idx.signatures, apiID)
	delete(idx.tenants, apiID)
}

// FindCandidates returns the union, over all bands, of the bucket matching
// the query's BandKey in that band, filtered to entries whose stored
// tenant equals tenant.
func (idx *Index) FindCandidates(tenant string, sig minhash.Signature) (map[string]struct{}, error) {
	if len(sig) != idx.width {
		return nil, fmt.Errorf("%w: signature has %d cells, index width is %d", gkerrors.LengthMismatch, len(sig), idx.width)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(map[string]struct{})
	for b := 0; b < idx.bands; b++ {
		key := bandKey(sig, b*idx.rows, idx.rows)
		bucket, ok := idx.band[b][key]
		if !ok {
			continue
		}
		for id := range bucket {
			if idx.tenants[id] == tenant {
				out[id] = struct{}{}
			}
		}
	}
	return out, nil
}

// FindSimilar computes the full-signature Jaccard estimate for every
// candidate and keeps those at or above threshold, sorted by similarity
// descending then api_id ascending.
func (idx *Index) FindSimilar(tenant string, sig minhash.Signature, threshold float64) ([]Match, error) {
	candidates, err := idx.FindCandidates(tenant, sig)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Match, 0, len(candidates))
	for id := range candidates {
		stored, ok := idx.signatures[id]
		if !ok {
			continue
		}
		sim, err := minhash.EstimateSimilarity(sig, stored)
		if err != nil {
			continue
		}
		if sim >= threshold {
			out = append(out, Match{APIID: id, Similarity: sim})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].APIID < out[j].APIID
	})
	return out, nil
}

// Contains reports whether apiID has a stored signature.
func (idx *Index) Contains(apiID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.signatures[apiID]
	return ok
}

// GetSignature returns the stored signature for apiID, if any.
func (idx *Index) GetSignature(apiID string) (minhash.Signature, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	sig, ok := idx.signatures[apiID]
	return sig, ok
}

// Size returns the number of indexed APIs.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.signatures)
}

// Clear drops all internal state: band tables, signatures, and tenants.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for b := range idx.band {
		idx.band[b] = make(map[string]map[string]struct{})
	}
	idx.signatures = make(map[string]minhash.Signature)
	idx.tenants = make(map[string]string)
}
