// Package orchestrator implements the Orchestrator (§2 component H): the
// single RunAuction(lead) entry point an external queue consumer calls
// per lead. It owns the lead's PENDING->PROCESSING transition and the
// terminal status mapping once the Auction Engine returns; everything
// downstream of that (D, E, F, G, A) is delegated to auction.Engine.
// Grounded on the auction service's cmd/main.go, which wires its
// collaborators once at startup and exposes a single handler entry
// point per request.
package orchestrator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/auction"
	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/store"
)

// Orchestrator wires the Auction Engine to the lead's lifecycle status.
type Orchestrator struct {
	store  store.Store
	engine *auction.Engine
	cfg    auction.Config
}

// New builds an Orchestrator. cfg is used for every RunAuction call
// unless the caller supplies a lead-specific override via RunWithConfig.
func New(st store.Store, engine *auction.Engine, cfg auction.Config) *Orchestrator {
	return &Orchestrator{store: st, engine: engine, cfg: cfg}
}

// RunAuction creates the lead record if absent, moves it to PROCESSING,
// runs the auction, and reconciles the lead's terminal status against
// the auction's outcome. It is safe to call at-most-once per lead from
// the queue consumer; a duplicate delivery of the same leadId is
// idempotent because CreateLeadIfAbsent and the engine's own conditional
// commits never re-sell a lead already SOLD.
func (o *Orchestrator) RunAuction(ctx context.Context, lead domain.Lead) auction.Result {
	return o.RunWithConfig(ctx, lead, o.cfg)
}

// RunWithConfig is RunAuction with a per-call Config override (e.g. a
// caller wanting a shorter TimeoutMs for a synchronous retry path).
func (o *Orchestrator) RunWithConfig(ctx context.Context, lead domain.Lead, cfg auction.Config) auction.Result {
	lead.Status = domain.LeadPending
	stored, err := o.store.CreateLeadIfAbsent(ctx, lead)
	if err != nil {
		log.WithError(err).WithField("lead_id", lead.LeadID).Error("orchestrator: failed to persist lead")
		return auction.Result{LeadID: lead.LeadID, Status: auction.StatusFailed}
	}
	lead = stored

	if lead.Status.IsTerminal() {
		log.WithField("lead_id", lead.LeadID).WithField("status", lead.Status).
			Warn("orchestrator: RunAuction invoked for a lead already in a terminal state, skipping")
		return auction.Result{LeadID: lead.LeadID, Status: auction.StatusFailed}
	}

	if _, err := o.store.UpdateLeadIfStatusIn(ctx, lead.LeadID, []domain.LeadStatus{domain.LeadPending}, domain.LeadProcessing, "", ""); err != nil {
		log.WithError(err).WithField("lead_id", lead.LeadID).Warn("orchestrator: failed to mark lead PROCESSING, continuing anyway")
	}

	result := o.engine.RunAuction(ctx, lead, cfg)
	o.reconcileTerminalStatus(ctx, lead.LeadID, result)
	return result
}

// reconcileTerminalStatus handles the paths where the Auction Engine did
// not itself drive the lead to SOLD: no eligible buyers, every PING
// timed out, or the cascade exhausted with no contractor fallback. The
// lead is moved to REJECTED if it is still in a pre-auction status; the
// orchestrator never sets EXPIRED, which is left to an external expiry
// sweep.
func (o *Orchestrator) reconcileTerminalStatus(ctx context.Context, leadID string, result auction.Result) {
	if result.Status == auction.StatusCompleted {
		return
	}

	rows, err := o.store.UpdateLeadIfStatusIn(ctx, leadID, domain.PreAuctionStatuses, domain.LeadRejected, "", "")
	if err != nil {
		log.WithError(err).WithField("lead_id", leadID).Warn("orchestrator: failed to mark lead REJECTED")
		return
	}
	if rows == 0 {
		// another writer (a concurrent retry, or the engine's own
		// late-arriving winner commit) already moved this lead past the
		// statuses this commit was conditioned on; nothing to reconcile.
		return
	}
	log.WithFields(log.Fields{"lead_id": leadID, "auction_status": result.Status}).
		Info("orchestrator: lead rejected, no winning buyer")
}
