// Package eligibility implements the Eligibility Resolver (§4.1): given a
// lead, produce a ranked set of candidate buyers. Grounded on the router
// service's AdapterSelector.SelectAdapters (filter-enabled → filter-region
// → sort-by-priority/health → truncate) and the auction service's
// WaterfallManager fallback-to-in-memory-default behavior.
package eligibility

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/store"
)

// Query is the resolver's input (§4.1).
type Query struct {
	ServiceTypeID     string
	ZipCode           string
	MaxParticipants   int
	MinBidThreshold   *string
	RequireMinBid     bool
	Lead              domain.Lead
}

// EligibleBuyer is one ranked candidate.
type EligibleBuyer struct {
	BuyerID         string
	ServiceZone     string
	EligibilityScore float64
}

// Exclusion records why a candidate was skipped, for analytics.
type Exclusion struct {
	BuyerID string
	Reason  domain.LostReason
}

// Result is the resolver's output (§4.1).
type Result struct {
	Eligible      []EligibleBuyer
	Excluded      []Exclusion
	EligibleCount int
	ExcludedCount int
}

// Clock abstracts wall-clock time for deterministic time-window tests.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Resolver resolves eligibility against a Store, falling back to an
// in-memory registry when the primary store errors (§4.1's failure mode).
type Resolver struct {
	primary  store.Store
	fallback *FallbackRegistry
	clock    Clock
}

// New builds a Resolver. fallback may be nil if no in-memory registry is
// configured; in that case a primary-store failure yields an empty result
// rather than a panic, per the "must never panic" requirement.
func New(primary store.Store, fallback *FallbackRegistry) *Resolver {
	return &Resolver{primary: primary, fallback: fallback, clock: realClock{}}
}

// SetClock overrides the clock for tests.
func (r *Resolver) SetClock(c Clock) { r.clock = c }

// Resolve runs the filter pipeline against the primary store, falling back
// to the in-memory registry when the zip-coverage read fails. Errors on the
// later per-buyer reads do not trigger the fallback: a failed buyer or
// config read skips that buyer, and a failed volume count leaves the buyer
// eligible.
func (r *Resolver) Resolve(ctx context.Context, q Query) Result {
	zips, err := r.primary.QueryZipCoverage(ctx, q.ServiceTypeID, q.ZipCode)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"service_type_id": q.ServiceTypeID,
			"zip_code":        q.ZipCode,
		}).Warn("eligibility: primary store read failed, falling back to in-memory registry")
		if r.fallback == nil {
			return Result{}
		}
		return r.resolveAgainst(ctx, q, r.fallback)
	}
	return r.resolveWithZips(ctx, q, zips, r.primary)
}

// configSource abstracts the subset of Store the filter pipeline needs, so
// the same pipeline runs against the primary Store or the FallbackRegistry.
type configSource interface {
	GetBuyerServiceConfig(ctx context.Context, buyerID, serviceTypeID string) (domain.BuyerServiceConfig, bool, error)
	GetBuyer(ctx context.Context, buyerID string) (domain.Buyer, bool, error)
	CountTodayForBuyer(ctx context.Context, buyerID string, actionType domain.ActionType, status domain.TransactionStatus) (int, error)
}

func (r *Resolver) resolveAgainst(ctx context.Context, q Query, src configSource) Result {
	zips := r.fallback.zipCoverage(q.ServiceTypeID, q.ZipCode)
	return r.resolveWithZips(ctx, q, zips, src)
}

func (r *Resolver) resolveWithZips(ctx context.Context, q Query, zips []domain.BuyerServiceZipCode, src configSource) Result {
	var eligible []EligibleBuyer
	var excluded []Exclusion

	for _, zip := range zips {
		buyer, ok, err := src.GetBuyer(ctx, zip.BuyerID)
		if err != nil || !ok || !buyer.Active {
			continue
		}

		cfg, ok, err := src.GetBuyerServiceConfig(ctx, zip.BuyerID, q.ServiceTypeID)
		if err != nil || !ok || !cfg.Active {
			continue
		}

		if reason, excludedNow := applyFilters(q.Lead, cfg, r.clock.Now()); excludedNow {
			excluded = append(excluded, Exclusion{BuyerID: zip.BuyerID, Reason: reason})
			continue
		}

		if cfg.Restrictions != nil && cfg.Restrictions.DailyVolumeLimit > 0 {
			count, err := src.CountTodayForBuyer(ctx, zip.BuyerID, domain.ActionPost, domain.StatusSuccess)
			if err == nil && count >= cfg.Restrictions.DailyVolumeLimit {
				excluded = append(excluded, Exclusion{BuyerID: zip.BuyerID, Reason: domain.LostCapReached})
				continue
			}
		}

		score := eligibilityScore(zip.Priority, 0)
		eligible = append(eligible, EligibleBuyer{
			BuyerID:          zip.BuyerID,
			ServiceZone:      q.ZipCode,
			EligibilityScore: score,
		})
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].EligibilityScore != eligible[j].EligibilityScore {
			return eligible[i].EligibilityScore > eligible[j].EligibilityScore
		}
		return eligible[i].BuyerID < eligible[j].BuyerID // deterministic tie-break
	})

	max := q.MaxParticipants
	if max <= 0 {
		max = 10
	}
	if len(eligible) > max {
		eligible = eligible[:max]
	}

	return Result{
		Eligible:      eligible,
		Excluded:      excluded,
		EligibleCount: len(eligible),
		ExcludedCount: len(excluded),
	}
}

// applyFilters runs the compliance/geo/time filter chain (§4.1 step 3).
func applyFilters(lead domain.Lead, cfg domain.BuyerServiceConfig, now time.Time) (domain.LostReason, bool) {
	if cfg.RequireTrustedForm && !lead.HasTrustedForm() {
		return domain.LostComplianceMissing, true
	}
	if cfg.RequireJornaya && !lead.HasJornaya() {
		return domain.LostComplianceMissing, true
	}
	if cfg.RequireTCPAConsent && !lead.TCPAConsent {
		return domain.LostComplianceMissing, true
	}

	if cfg.Restrictions != nil && cfg.Restrictions.Geo != nil {
		inList := contains(cfg.Restrictions.Geo.ZipCodes, lead.ZipCode)
		if cfg.Restrictions.Geo.Type == domain.GeoExclude && inList {
			return domain.LostNotSelected, true
		}
		if cfg.Restrictions.Geo.Type == domain.GeoInclude && !inList {
			return domain.LostNotSelected, true
		}
	}

	if cfg.Restrictions != nil && len(cfg.Restrictions.TimeWindows) > 0 {
		if !withinAnyWindow(cfg.Restrictions.TimeWindows, now) {
			return domain.LostOutsideHours, true
		}
	}

	return "", false
}

func withinAnyWindow(windows []domain.TimeWindow, now time.Time) bool {
	day := now.Weekday()
	hour := now.Hour()
	for _, w := range windows {
		if !weekdayIn(w.DaysOfWeek, day) {
			continue
		}
		if hour >= w.StartHour && hour < w.EndHour {
			return true
		}
	}
	return false
}

func weekdayIn(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// eligibilityScore derives a deterministic score from (inverse) priority
// and recent acceptance rate. Lower priority ranks higher, mirroring the
// router service's AdapterInfo.Priority convention.
func eligibilityScore(priority int, acceptanceRate float64) float64 {
	base := 1000.0 / float64(priority+1)
	return base + acceptanceRate*100
}
