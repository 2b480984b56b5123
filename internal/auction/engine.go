package auction

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/contractor"
	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/eligibility"
	"github.com/rivalapex/leadauction/internal/httpclient"
	"github.com/rivalapex/leadauction/internal/metrics"
	"github.com/rivalapex/leadauction/internal/money"
	"github.com/rivalapex/leadauction/internal/responseparser"
	"github.com/rivalapex/leadauction/internal/store"
	"github.com/rivalapex/leadauction/internal/template"
	"github.com/rivalapex/leadauction/internal/tracing"
)

// Status is the closed set of terminal auction outcomes (§4.3 step 6).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusNoBids    Status = "no_bids"
	StatusTimeout   Status = "timeout"
)

// Config enumerates RunAuction's tunables, defaulted per §4.3.
type Config struct {
	MaxParticipants   int
	TimeoutMs         int
	RequireMinimumBid bool
	MinimumBid        money.Money
	AllowTiedBids     bool
	TiebreakStrategy  string // random|priority|responseTime
}

// DefaultConfig returns §4.3's documented defaults.
func DefaultConfig() Config {
	min, _ := money.Parse("10.00")
	return Config{
		MaxParticipants:   10,
		TimeoutMs:         5000,
		RequireMinimumBid: true,
		MinimumBid:        min,
		AllowTiedBids:     false,
		TiebreakStrategy:  "responseTime",
	}
}

// BidRecord is one PING outcome kept for AuctionResult.AllBids.
type BidRecord struct {
	BuyerID        string
	BidAmount      money.Money
	ResponseTimeMs int64
	Success        bool
}

// Result is the unified AuctionResult of §4.3 step 6.
type Result struct {
	LeadID            string
	WinningBuyerID    *string
	WinningBidAmount  *string
	AllBids           []BidRecord
	ParticipantCount  int
	AuctionDurationMs int64
	Status            Status
	PostResult        *contractor.Result
}

// Engine runs RunAuction. Grounded on bidding.AuctionEngine's struct shape
// (holds its collaborators as fields, exposes a single RunAuction entry
// point) generalized from ad-mediation bid requests to lead PING/POST.
type Engine struct {
	store      store.Store
	resolver   *eligibility.Resolver
	client     httpclient.Client
	dispatcher *contractor.Dispatcher
	breaker    *CircuitBreaker
	metrics    *metrics.Metrics
	rngMu      sync.Mutex
	rng        *rand.Rand
}

// SetMetrics attaches a Prometheus recorder; nil (the default) disables
// recording entirely rather than requiring every caller to wire one.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// New wires an Engine from its collaborators.
func New(st store.Store, resolver *eligibility.Resolver, client httpclient.Client, dispatcher *contractor.Dispatcher) *Engine {
	return &Engine{
		store:      st,
		resolver:   resolver,
		client:     client,
		dispatcher: dispatcher,
		breaker:    NewCircuitBreaker(5, 30*time.Second),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) recordAuctionMetrics(serviceTypeID string, result *Result) {
	if e.metrics == nil {
		return
	}
	e.metrics.AuctionsTotal.WithLabelValues(string(result.Status)).Inc()
	e.metrics.AuctionDuration.WithLabelValues(string(result.Status)).Observe(float64(result.AuctionDurationMs) / 1000.0)
	e.metrics.ParticipantCount.WithLabelValues(serviceTypeID).Observe(float64(result.ParticipantCount))
}

// randIntn is a concurrency-safe wrapper around the engine's private
// source: multiple RunAuction calls (one per queue-consumed lead) may
// run concurrently and would otherwise race on rand.Rand's internal state.
func (e *Engine) randIntn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

type networkCandidate struct {
	buyer  domain.Buyer
	config domain.BuyerServiceConfig
}

type pingOutcome struct {
	candidate      networkCandidate
	parsed         responseparser.Result
	responseTimeMs int64
	status         domain.TransactionStatus
	metadata       map[string]interface{}
	err            error
}

// RunAuction is the Auction Engine's single entry point (§4.3).
func (e *Engine) RunAuction(ctx context.Context, lead domain.Lead, cfg Config) Result {
	start := time.Now()
	result := Result{LeadID: lead.LeadID}
	defer func() { e.recordAuctionMetrics(lead.ServiceTypeID, &result) }()

	elig := e.resolver.Resolve(ctx, eligibility.Query{
		ServiceTypeID:   lead.ServiceTypeID,
		ZipCode:         lead.ZipCode,
		MaxParticipants: cfg.MaxParticipants,
		Lead:            lead,
	})
	if len(elig.Eligible) == 0 {
		result.Status = StatusFailed
		result.AuctionDurationMs = time.Since(start).Milliseconds()
		return result
	}

	var networks []networkCandidate
	var contractors []contractor.Candidate
	for _, eb := range elig.Eligible {
		buyer, ok, err := e.store.GetBuyer(ctx, eb.BuyerID)
		if err != nil || !ok {
			continue
		}
		cfgRow, ok, err := e.store.GetBuyerServiceConfig(ctx, eb.BuyerID, lead.ServiceTypeID)
		if err != nil || !ok {
			continue
		}
		if buyer.IsNetwork() {
			networks = append(networks, networkCandidate{buyer: buyer, config: cfgRow})
		} else {
			contractors = append(contractors, contractor.Candidate{Buyer: buyer, Config: cfgRow})
		}
	}
	result.ParticipantCount = len(networks) + len(contractors)

	var validBids []pingOutcome
	if len(networks) > 0 {
		outcomes := e.pingFanout(ctx, lead, networks, cfg)
		for _, o := range outcomes {
			bid := money.Zero
			if o.parsed.Kind == responseparser.Accepted {
				if m, err := money.Parse(o.parsed.BidAmount); err == nil {
					bid = m
				}
			}
			result.AllBids = append(result.AllBids, BidRecord{
				BuyerID: o.candidate.buyer.BuyerID, BidAmount: bid,
				ResponseTimeMs: o.responseTimeMs, Success: o.status == domain.StatusSuccess,
			})
			if o.status == domain.StatusSuccess && o.parsed.Kind == responseparser.Accepted && bid.IsPositive() {
				if cfg.RequireMinimumBid && bid.LessThan(cfg.MinimumBid) {
					continue
				}
				validBids = append(validBids, o)
			}
		}

		if len(validBids) == 0 {
			allTimedOut := true
			for _, o := range outcomes {
				if o.status != domain.StatusTimeout {
					allTimedOut = false
					break
				}
			}
			if len(contractors) == 0 {
				result.Status = StatusNoBids
				if !allTimedOut {
					result.Status = StatusFailed
				}
				result.AuctionDurationMs = time.Since(start).Milliseconds()
				return result
			}
			// fall through to contractor fallback with no network reference bid
		} else {
			winner := e.selectWinner(validBids, cfg)
			e.updatePingWinners(ctx, lead.LeadID, winner.candidate.buyer.BuyerID, winner.parsed.BidAmount, outcomes)

			postResult, accepted := e.cascadePost(ctx, lead, validBids, winner, outcomes, cfg)
			if accepted {
				result.Status = StatusCompleted
				result.WinningBuyerID = domain.StrPtr(postResult.buyer.BuyerID)
				result.WinningBidAmount = domain.StrPtr(postResult.bidAmount.String())
				result.AuctionDurationMs = time.Since(start).Milliseconds()
				return result
			}
			// cascade exhausted
			if len(contractors) == 0 {
				e.insertCascadeExhausted(ctx, lead.LeadID)
				result.Status = StatusFailed
				result.AuctionDurationMs = time.Since(start).Milliseconds()
				return result
			}
		}

		// contractor fallback: mark PING rows CASCADE_EXHAUSTED for analytics.
		e.markCascadeExhausted(ctx, lead.LeadID)
	}

	if len(contractors) == 0 {
		result.Status = StatusFailed
		result.AuctionDurationMs = time.Since(start).Milliseconds()
		return result
	}

	var referenceBid *money.Money
	if len(validBids) > 0 {
		top := validBids[0]
		if m, err := money.Parse(top.parsed.BidAmount); err == nil {
			referenceBid = &m
		}
	}

	dispatchResult := e.dispatcher.Dispatch(ctx, lead, contractors, referenceBid)
	result.PostResult = &dispatchResult
	if dispatchResult.Delivered {
		result.Status = StatusCompleted
		result.WinningBuyerID = domain.StrPtr(dispatchResult.WinningBuyerID)
		result.WinningBidAmount = domain.StrPtr(dispatchResult.WinningBid.String())
	} else {
		result.Status = StatusFailed
	}
	result.AuctionDurationMs = time.Since(start).Milliseconds()
	return result
}

// pingFanout fans PING requests out in parallel, one goroutine per network
// buyer, each bounded by its own deadline so a slow buyer never delays the
// others (§4.3 step a, §5's ordering guarantees).
func (e *Engine) pingFanout(ctx context.Context, lead domain.Lead, networks []networkCandidate, cfg Config) []pingOutcome {
	ctx, span := tracing.StartSpan(ctx, "auction.ping_fanout", map[string]string{
		"lead_id": lead.LeadID, "participant_count": strconv.Itoa(len(networks)),
	})
	defer span.End()

	outcomes := make([]pingOutcome, len(networks))
	var wg sync.WaitGroup

	for i, nc := range networks {
		wg.Add(1)
		go func(i int, nc networkCandidate) {
			defer wg.Done()
			outcomes[i] = e.pingOne(ctx, lead, nc, cfg)
		}(i, nc)
	}
	wg.Wait()

	return outcomes
}

func (e *Engine) pingOne(ctx context.Context, lead domain.Lead, nc networkCandidate, cfg Config) pingOutcome {
	deadline := time.Duration(nc.buyer.PingTimeoutMs) * time.Millisecond
	globalDeadline := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if globalDeadline > 0 && (deadline <= 0 || globalDeadline < deadline) {
		deadline = globalDeadline
	}

	payload := template.Project(lead, nc.config.PingTemplate, true)
	body, _ := json.Marshal(payload)

	start := time.Now()
	var outcome pingOutcome
	outcome.candidate = nc

	err := e.breaker.Call(nc.buyer.BuyerID, func() error {
		resp, reqErr := e.client.Do(ctx, httpclient.Request{
			Kind: httpclient.KindPing, URL: nc.buyer.PingURL, ServiceTypeID: lead.ServiceTypeID,
			Body: body, Auth: nc.buyer.Auth, Timeout: deadline,
		})
		if reqErr != nil {
			outcome.err = reqErr
			return reqErr
		}
		outcome.parsed = responseparser.Parse(resp.Body, resp.StatusCode, responseparser.BidFieldConfig{BidAmountField: nc.config.BidAmountField})
		var meta map[string]interface{}
		json.Unmarshal(resp.Body, &meta)
		outcome.metadata = meta
		return nil
	})
	outcome.responseTimeMs = time.Since(start).Milliseconds()

	switch {
	case err != nil && isTimeoutErr(err):
		outcome.status = domain.StatusTimeout
	case err != nil:
		outcome.status = domain.StatusFailed
	default:
		outcome.status = domain.StatusSuccess
	}

	e.persistPing(ctx, lead, nc, outcome, body)
	return outcome
}

func (e *Engine) persistPing(ctx context.Context, lead domain.Lead, nc networkCandidate, outcome pingOutcome, payload []byte) {
	tx := domain.Transaction{
		LeadID: lead.LeadID, BuyerID: nc.buyer.BuyerID, ActionType: domain.ActionPing,
		Status: outcome.status, ResponseTimeMs: outcome.responseTimeMs, Payload: string(payload),
		CreatedAt: time.Now().UTC(),
	}
	if outcome.err != nil {
		tx.ErrorMessage = outcome.err.Error()
	}
	if outcome.parsed.Kind == responseparser.Accepted {
		tx.BidAmount = domain.StrPtr(outcome.parsed.BidAmount)
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		log.WithError(err).WithField("lead_id", lead.LeadID).Warn("auction: failed to persist PING transaction")
	}
	if e.metrics != nil {
		e.metrics.PingRequests.WithLabelValues(nc.buyer.BuyerID, string(outcome.status)).Inc()
		e.metrics.PingLatency.WithLabelValues(nc.buyer.BuyerID).Observe(float64(outcome.responseTimeMs) / 1000.0)
		e.metrics.CircuitState.WithLabelValues(nc.buyer.BuyerID).Set(circuitStateGauge(e.breaker.State(nc.buyer.BuyerID)))
	}
}

func circuitStateGauge(s CircuitState) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// selectWinner picks the highest bid, breaking ties per cfg.TiebreakStrategy
// (§4.3 step d).
func (e *Engine) selectWinner(bids []pingOutcome, cfg Config) pingOutcome {
	sort.SliceStable(bids, func(i, j int) bool {
		bi, _ := money.Parse(bids[i].parsed.BidAmount)
		bj, _ := money.Parse(bids[j].parsed.BidAmount)
		return bi.GreaterThan(bj)
	})

	top, _ := money.Parse(bids[0].parsed.BidAmount)
	var tied []pingOutcome
	for _, b := range bids {
		amt, _ := money.Parse(b.parsed.BidAmount)
		if amt.Equal(top) {
			tied = append(tied, b)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	switch cfg.TiebreakStrategy {
	case "random":
		return tied[e.randIntn(len(tied))]
	case "priority":
		return tied[e.randIntn(len(tied))] // priority falls back to random, §4.3 step d
	default: // responseTime
		sort.SliceStable(tied, func(i, j int) bool { return tied[i].responseTimeMs < tied[j].responseTimeMs })
		return tied[0]
	}
}

// updatePingWinners applies the post-hoc PING update (§4.3 step e): every
// PING row for this lead gets isWinner/winningBidAmount/lostReason set.
func (e *Engine) updatePingWinners(ctx context.Context, leadID, winningBuyerID, winningBidAmount string, outcomes []pingOutcome) {
	statusByBuyer := make(map[string]pingOutcome, len(outcomes))
	for _, o := range outcomes {
		statusByBuyer[o.candidate.buyer.BuyerID] = o
	}

	err := e.store.BulkUpdateByLeadAndAction(ctx, leadID, domain.ActionPing, func(tx *domain.Transaction) {
		isWinner := tx.BuyerID == winningBuyerID
		tx.IsWinner = domain.BoolPtr(isWinner)
		if isWinner {
			tx.WinningBidAmount = domain.StrPtr(winningBidAmount)
			tx.LostReason = ""
			return
		}
		tx.WinningBidAmount = domain.StrPtr(winningBidAmount)
		o, ok := statusByBuyer[tx.BuyerID]
		switch {
		case ok && o.status == domain.StatusTimeout:
			tx.LostReason = domain.LostTimeout
		case ok && o.parsed.Kind == responseparser.Accepted:
			tx.LostReason = domain.LostOutbid
		default:
			tx.LostReason = domain.LostNoBid
		}
	})
	if err != nil {
		log.WithError(err).WithField("lead_id", leadID).Warn("auction: post-hoc PING update failed")
	}
}

type cascadeWinner struct {
	buyer     domain.Buyer
	bidAmount money.Money
}

// cascadePost implements §4.3 step f: a strictly sequential loop through
// validBids in descending bid order, stopping at the first acceptance.
// Concurrency here is a correctness hazard, not an optimization target.
func (e *Engine) cascadePost(ctx context.Context, lead domain.Lead, validBids []pingOutcome, initialWinner pingOutcome, allOutcomes []pingOutcome, cfg Config) (cascadeWinner, bool) {
	ctx, span := tracing.StartSpan(ctx, "auction.post_cascade", map[string]string{
		"lead_id": lead.LeadID, "candidate_count": strconv.Itoa(len(validBids)),
	})
	defer span.End()

	sort.SliceStable(validBids, func(i, j int) bool {
		bi, _ := money.Parse(validBids[i].parsed.BidAmount)
		bj, _ := money.Parse(validBids[j].parsed.BidAmount)
		return bi.GreaterThan(bj)
	})

	for position, o := range validBids {
		nc := o.candidate
		bidAmount, _ := money.Parse(o.parsed.BidAmount)

		payloadMap := template.Project(lead, nc.config.PostTemplate, true)
		payloadMap["auction_winning_bid"] = bidAmount.String()
		payloadMap["auction_timestamp"] = time.Now().UTC().Format(time.RFC3339)
		payloadMap["cascade_position"] = position + 1
		if o.metadata != nil {
			if v, ok := o.metadata["pingToken"]; ok {
				payloadMap["pingToken"] = v
			}
			if v, ok := o.metadata["buyerLeadId"]; ok {
				payloadMap["buyerLeadId"] = v
			}
		}
		body, _ := json.Marshal(payloadMap)

		deadline := time.Duration(nc.buyer.PostTimeoutMs) * time.Millisecond
		start := time.Now()
		resp, err := e.client.Do(ctx, httpclient.Request{
			Kind: httpclient.KindPost, URL: nc.buyer.PostURL, ServiceTypeID: lead.ServiceTypeID,
			Body: body, Auth: nc.buyer.Auth, Timeout: deadline,
		})
		responseTimeMs := time.Since(start).Milliseconds()

		if err != nil {
			status := domain.StatusFailed
			if isTimeoutErr(err) {
				status = domain.StatusTimeout
			}
			lostReason := domain.LostTimeout
			if status == domain.StatusFailed {
				lostReason = domain.LostPostRejected
			}
			e.persistPost(ctx, lead, nc, status, bidAmount, position+1, false, lostReason, err.Error(), responseTimeMs, body)
			continue
		}

		parsed := responseparser.Parse(resp.Body, resp.StatusCode, responseparser.BidFieldConfig{BidAmountField: nc.config.BidAmountField})
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && parsed.Kind == responseparser.Accepted {
			rows, updErr := e.store.UpdateLeadIfStatusIn(ctx, lead.LeadID, domain.PreAuctionStatuses, domain.LeadSold, nc.buyer.BuyerID, bidAmount.String())
			if updErr != nil || rows == 0 {
				e.persistPost(ctx, lead, nc, domain.StatusFailed, bidAmount, position+1, false, domain.LostPostRejected, "lead already sold", responseTimeMs, body)
				continue
			}
			e.persistPost(ctx, lead, nc, domain.StatusSuccess, bidAmount, position+1, true, "", "", responseTimeMs, body)

			if nc.buyer.BuyerID != initialWinner.candidate.buyer.BuyerID {
				// winner change: rerun the post-hoc PING update (§4.3 step f)
				// against every PING outcome, not just the ones that bid, so
				// timed-out buyers keep TIMEOUT instead of becoming NO_BID.
				e.updatePingWinners(ctx, lead.LeadID, nc.buyer.BuyerID, bidAmount.String(), allOutcomes)
			}
			return cascadeWinner{buyer: nc.buyer, bidAmount: bidAmount}, true
		}

		reason := parsed.Reason
		if reason == "" {
			reason = statusCodeLostReason(resp.StatusCode)
		}
		e.persistPost(ctx, lead, nc, domain.StatusFailed, bidAmount, position+1, false, reason, "", responseTimeMs, body)
	}

	return cascadeWinner{}, false
}

// isTimeoutErr classifies a transport error as a deadline expiry rather
// than a generic failure. The deadline itself lives in a context the
// Client derives internally from Request.Timeout, so the outer ctx never
// observes it directly — the error value is the only reliable signal.
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusCodeLostReason(statusCode int) domain.LostReason {
	switch {
	case statusCode == 409:
		return domain.LostDuplicateLead
	case statusCode == 429:
		return domain.LostCapReached
	case statusCode == 401 || statusCode == 403:
		return domain.LostPostRejected
	case statusCode >= 500:
		return domain.LostPostRejected
	default:
		return domain.LostPostRejected
	}
}

func (e *Engine) persistPost(ctx context.Context, lead domain.Lead, nc networkCandidate, status domain.TransactionStatus, bidAmount money.Money, cascadePosition int, isWinner bool, lostReason domain.LostReason, errMsg string, responseTimeMs int64, payload []byte) {
	tx := domain.Transaction{
		LeadID: lead.LeadID, BuyerID: nc.buyer.BuyerID, ActionType: domain.ActionPost,
		Status: status, BidAmount: domain.StrPtr(bidAmount.String()), ResponseTimeMs: responseTimeMs,
		Payload: string(payload), ErrorMessage: errMsg, IsWinner: domain.BoolPtr(isWinner),
		LostReason: lostReason, CascadePosition: domain.IntPtr(cascadePosition), CreatedAt: time.Now().UTC(),
	}
	if isWinner {
		tx.WinningBidAmount = domain.StrPtr(bidAmount.String())
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		log.WithError(err).WithField("lead_id", lead.LeadID).Warn("auction: failed to persist POST transaction")
	}
	if e.metrics != nil {
		e.metrics.PostRequests.WithLabelValues(nc.buyer.BuyerID, string(status)).Inc()
		e.metrics.PostLatency.WithLabelValues(nc.buyer.BuyerID).Observe(float64(responseTimeMs) / 1000.0)
	}
}

// markCascadeExhausted updates every network PING row to isWinner=false,
// lostReason=CASCADE_EXHAUSTED before the contractor fallback runs (§4.3
// step 4).
func (e *Engine) markCascadeExhausted(ctx context.Context, leadID string) {
	err := e.store.BulkUpdateByLeadAndAction(ctx, leadID, domain.ActionPing, func(tx *domain.Transaction) {
		tx.IsWinner = domain.BoolPtr(false)
		tx.LostReason = domain.LostCascadeExhausted
	})
	if err != nil {
		log.WithError(err).WithField("lead_id", leadID).Warn("auction: failed to mark cascade exhausted")
	}
}

// insertCascadeExhausted synthesizes the terminal POST row when the
// cascade exhausts all bidders and no contractors exist (§4.3 step g).
func (e *Engine) insertCascadeExhausted(ctx context.Context, leadID string) {
	tx := domain.Transaction{
		LeadID: leadID, ActionType: domain.ActionPost, Status: domain.StatusFailed,
		IsWinner: domain.BoolPtr(false), LostReason: domain.LostCascadeExhausted, CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		log.WithError(err).WithField("lead_id", leadID).Warn("auction: failed to persist cascade-exhausted row")
	}
	e.markCascadeExhausted(ctx, leadID)
}

