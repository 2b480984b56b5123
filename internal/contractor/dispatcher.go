// Package contractor implements the Contractor Dispatcher (§4.4): ranking,
// EXCLUSIVE/SHARED routing, notification fan-out, and the atomic
// winner-commit race guard. Grounded on the payments ledger's
// RecordPayout (balance check → write → rollback-on-failure shape),
// generalized here into a single conditional compare-and-swap issued by
// store.Store.UpdateLeadIfStatusIn rather than a read-then-write pair,
// since §4.4 requires the commit itself to be race-safe, not just logged.
package contractor

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/metrics"
	"github.com/rivalapex/leadauction/internal/money"
	"github.com/rivalapex/leadauction/internal/notify"
	"github.com/rivalapex/leadauction/internal/store"
)

// Candidate is one contractor eligible for this lead, as resolved by the
// Eligibility Resolver and enriched with its full Buyer + config record.
type Candidate struct {
	Buyer  domain.Buyer
	Config domain.BuyerServiceConfig
}

// Result summarizes the dispatch outcome for the Auction Engine's
// AuctionResult.postResult.
type Result struct {
	Delivered      bool
	WinningBuyerID string
	WinningBid     money.Money
	DeliveredCount int
	DuplicateRace  bool
}

// Dispatcher ranks, routes, and delivers to contractors.
type Dispatcher struct {
	store   store.Store
	notify  *notify.Service
	metrics *metrics.Metrics
}

// New builds a Dispatcher.
func New(st store.Store, notifier *notify.Service) *Dispatcher {
	return &Dispatcher{store: st, notify: notifier}
}

// SetMetrics attaches a Prometheus recorder; nil disables recording.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// Dispatch ranks candidates, routes by the top-ranked contractor's
// delivery mode, fans out notifications, and attempts the atomic winner
// commit. networkReferenceBid is the highest network PING bid (if any),
// used by HYBRID pricing.
func (d *Dispatcher) Dispatch(ctx context.Context, lead domain.Lead, candidates []Candidate, networkReferenceBid *money.Money) Result {
	if len(candidates) == 0 {
		return Result{}
	}

	ranked := rank(candidates, networkReferenceBid)
	top := ranked[0]

	var selected []rankedCandidate
	if top.buyer.DeliveryMode == domain.DeliveryShared {
		n := top.buyer.MaxSharedLeads
		if n <= 0 {
			n = 1
		}
		if n > len(ranked) {
			n = len(ranked)
		}
		selected = ranked[:n]
	} else {
		selected = ranked[:1]
	}

	result := Result{}
	firstCommitted := false

	for i, c := range selected {
		attempts := d.notify.Notify(ctx, lead, c.buyer)
		delivered := anySucceeded(attempts)

		status := domain.StatusFailed
		if delivered {
			status = domain.StatusSuccess
		}

		rowsUpdated := 0
		if delivered {
			var err error
			rowsUpdated, err = d.store.UpdateLeadIfStatusIn(ctx, lead.LeadID, domain.PreAuctionStatuses, domain.LeadSold, c.buyer.BuyerID, c.effectivePrice.String())
			if err != nil {
				log.WithError(err).WithField("lead_id", lead.LeadID).Warn("contractor: winner commit failed")
			}
		}

		isWinner := delivered && (rowsUpdated > 0 || (firstCommitted && top.buyer.DeliveryMode == domain.DeliveryShared))
		if delivered && rowsUpdated == 0 && !firstCommitted {
			// another writer already sold this lead; this delivery is a
			// duplicate race unless we are a later SHARED recipient riding
			// on an already-successful commit made earlier in this loop.
			result.DuplicateRace = true
			isWinner = false
			log.WithField("lead_id", lead.LeadID).WithField("buyer_id", c.buyer.BuyerID).
				Warn("contractor: lost race for lead, another writer already sold it")
		}
		if rowsUpdated > 0 {
			firstCommitted = true
		}

		tx := domain.Transaction{
			LeadID:     lead.LeadID,
			BuyerID:    c.buyer.BuyerID,
			ActionType: domain.ActionDelivery,
			Status:     status,
			BidAmount:  domain.StrPtr(c.effectivePrice.String()),
			IsWinner:   domain.BoolPtr(isWinner),
			CreatedAt:  time.Now().UTC(),
		}
		if !isWinner {
			tx.LostReason = domain.LostNotSelected
		}
		if err := d.store.InsertTransaction(ctx, tx); err != nil {
			log.WithError(err).Warn("contractor: failed to persist delivery row")
		}
		if d.metrics != nil {
			d.metrics.ContractorDeliveries.WithLabelValues(c.buyer.BuyerID, strconv.FormatBool(isWinner)).Inc()
		}

		if isWinner {
			result.Delivered = true
			result.DeliveredCount++
			result.WinningBid = result.WinningBid.Add(c.effectivePrice)
			if result.WinningBuyerID == "" {
				result.WinningBuyerID = c.buyer.BuyerID
			}
			if rowsUpdated == 0 {
				// a later SHARED recipient riding on an earlier commit in this
				// loop: the first commit only stored the first buyer's price,
				// so bump the lead's winningBid to the running sum (§8).
				if _, err := d.store.UpdateLeadIfStatusIn(ctx, lead.LeadID, []domain.LeadStatus{domain.LeadSold}, domain.LeadSold, result.WinningBuyerID, result.WinningBid.String()); err != nil {
					log.WithError(err).WithField("lead_id", lead.LeadID).Warn("contractor: failed to bump shared winningBid")
				}
			}
		}
		_ = i
	}

	for _, c := range ranked[len(selected):] {
		reason := domain.LostLowerPriority
		tx := domain.Transaction{
			LeadID:     lead.LeadID,
			BuyerID:    c.buyer.BuyerID,
			ActionType: domain.ActionDelivery,
			Status:     domain.StatusFailed,
			IsWinner:   domain.BoolPtr(false),
			LostReason: reason,
			CreatedAt:  time.Now().UTC(),
		}
		if err := d.store.InsertTransaction(ctx, tx); err != nil {
			log.WithError(err).Warn("contractor: failed to persist non-selected row")
		}
	}

	return result
}

type rankedCandidate struct {
	buyer          domain.Buyer
	effectivePrice money.Money
}

func rank(candidates []Candidate, networkReferenceBid *money.Money) []rankedCandidate {
	out := make([]rankedCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = rankedCandidate{buyer: c.Buyer, effectivePrice: effectivePrice(c, networkReferenceBid)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].buyer.Priority != out[j].buyer.Priority {
			return out[i].buyer.Priority < out[j].buyer.Priority
		}
		return out[i].effectivePrice.GreaterThan(out[j].effectivePrice)
	})
	return out
}

// effectivePrice computes the per-contractor price per §4.4's pricing
// table.
func effectivePrice(c Candidate, networkReferenceBid *money.Money) money.Money {
	switch c.Buyer.PricingModel {
	case domain.PricingFixed:
		return c.Buyer.FixedLeadPrice
	case domain.PricingAuction:
		if c.Config.MaxBid != nil {
			return *c.Config.MaxBid
		}
		return money.Zero
	case domain.PricingHybrid:
		if c.Buyer.DeliveryMode == domain.DeliveryShared && networkReferenceBid != nil {
			return networkReferenceBid.Mul(halfFactor)
		}
		maxBid := money.Zero
		if c.Config.MaxBid != nil {
			maxBid = *c.Config.MaxBid
		}
		return money.Max2(maxBid, c.Buyer.FixedLeadPrice)
	default:
		return c.Buyer.FixedLeadPrice
	}
}

var halfFactor = decimal.NewFromFloat(0.5)

func anySucceeded(attempts []notify.Attempt) bool {
	for _, a := range attempts {
		if a.Success {
			return true
		}
	}
	return false
}
