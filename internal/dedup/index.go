package dedup

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// KeyStore persists seen dedup keys. Implemented by the record store.
type KeyStore interface {
	// InsertDedupKey records a key for a campaign. Returns false when the
	// key was already present for that campaign (first-write-wins).
	InsertDedupKey(ctx context.Context, campaignID, key string) (bool, error)
	// HasDedupKey reports whether any campaign other than excludeCampaignID
	// has recorded the key.
	HasDedupKey(ctx context.Context, key, excludeCampaignID string) (bool, error)
}

// Index decides whether a candidate is new. Lookups hit an in-memory set
// first, then the store, so repeated duplicates within one execution cost
// nothing. Safe for concurrent use by the batch worker pool.
type Index struct {
	store      KeyStore
	campaignID string
	global     bool

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIndex creates a dedup index for one campaign execution. When global is
// true, keys known to other campaigns also count as duplicates.
func NewIndex(store KeyStore, campaignID string, global bool) *Index {
	return &Index{
		store:      store,
		campaignID: campaignID,
		global:     global,
		seen:       make(map[string]struct{}),
	}
}

// Accept returns true when the key has not been seen before and records it
// in both the in-memory set and the store. Keys that cannot be derived
// (empty) are always accepted since there is nothing to match on.
func (ix *Index) Accept(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}

	ix.mu.Lock()
	if _, dup := ix.seen[key]; dup {
		ix.mu.Unlock()
		return false, nil
	}
	ix.seen[key] = struct{}{}
	ix.mu.Unlock()

	if ix.global {
		known, err := ix.store.HasDedupKey(ctx, key, ix.campaignID)
		if err != nil {
			return false, eris.Wrap(err, "dedup: global lookup")
		}
		if known {
			return false, nil
		}
	}

	inserted, err := ix.store.InsertDedupKey(ctx, ix.campaignID, key)
	if err != nil {
		return false, eris.Wrap(err, "dedup: insert key")
	}
	return inserted, nil
}
