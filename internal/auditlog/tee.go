package auditlog

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/store"
)

// TeeStore wraps a primary store.Store (Redis, the operational record of
// truth) and additionally fans every transaction write out to a Sink
// (ClickHouse) for durable, query-friendly analytics. Every other method
// is delegated unchanged — reads never consult ClickHouse, since it is a
// write-side copy, not a cache.
type TeeStore struct {
	store.Store
	sink *Sink
}

// NewTeeStore returns primary unmodified if sink is nil, so callers can
// wire this unconditionally regardless of whether ClickHouse is enabled.
func NewTeeStore(primary store.Store, sink *Sink) store.Store {
	if sink == nil {
		return primary
	}
	return &TeeStore{Store: primary, sink: sink}
}

// InsertTransaction writes to the primary store first; the ClickHouse
// copy is best-effort and never blocks or fails the primary write.
func (t *TeeStore) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := t.Store.InsertTransaction(ctx, tx); err != nil {
		return err
	}
	if err := t.sink.Insert(ctx, tx); err != nil {
		log.WithError(err).WithField("lead_id", tx.LeadID).Warn("auditlog: ClickHouse insert failed, primary write unaffected")
	}
	return nil
}

// BulkUpdateByLeadAndAction is delegated to the primary store only: the
// post-hoc winner-flip rewrites in place, and ClickHouse's MergeTree
// engine isn't a good fit for in-place row mutation. The durable copy
// keeps the pre-update row, so the current winner is only visible in the
// primary store.
func (t *TeeStore) BulkUpdateByLeadAndAction(ctx context.Context, leadID string, actionType domain.ActionType, patch func(tx *domain.Transaction)) error {
	return t.Store.BulkUpdateByLeadAndAction(ctx, leadID, actionType, patch)
}
