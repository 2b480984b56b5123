// Package store defines the persistence contract the core consumes
// (§6 of the design: Lead.createIfAbsent, Lead.updateIfStatusIn,
// Transaction.insert, Transaction.bulkUpdateByLeadAndAction,
// Transaction.countTodayForBuyer, BuyerServiceConfig.get,
// BuyerServiceZipCode.query, Buyer.getTypes) as an explicit interface,
// per the "cyclic module imports → explicit interfaces" design note. The
// auction engine, eligibility resolver, and contractor dispatcher depend
// only on this interface; cmd/worker wires a concrete Redis-backed
// implementation at startup.
package store

import (
	"context"

	"github.com/rivalapex/leadauction/internal/domain"
)

// TransactionPatch lists the fields the post-hoc PING update and
// cascade-induced winner-change re-run overwrite. BulkUpdateByLeadAndAction
// takes a patch function rather than this type, so it does not restrict
// which fields a patch may change.
type TransactionPatch struct {
	IsWinner         *bool
	LostReason       domain.LostReason
	WinningBidAmount *string
}

// Store is the persistence interface consumed by the auction engine,
// eligibility resolver, and contractor dispatcher.
type Store interface {
	// CreateLeadIfAbsent inserts lead if leadId is not already present,
	// returning the stored (possibly pre-existing) record.
	CreateLeadIfAbsent(ctx context.Context, lead domain.Lead) (domain.Lead, error)

	// GetLead fetches a lead by ID.
	GetLead(ctx context.Context, leadID string) (domain.Lead, error)

	// UpdateLeadIfStatusIn conditionally commits newFields onto the lead
	// only if its current status is one of allowed. Returns rowsUpdated:
	// 1 if the commit applied, 0 if another writer already moved the lead
	// past one of the allowed statuses (the race-safety primitive F and E
	// depend on).
	UpdateLeadIfStatusIn(ctx context.Context, leadID string, allowed []domain.LeadStatus, newStatus domain.LeadStatus, winningBuyerID, winningBid string) (rowsUpdated int, err error)

	// InsertTransaction appends one audit row.
	InsertTransaction(ctx context.Context, tx domain.Transaction) error

	// BulkUpdateByLeadAndAction patches every transaction for
	// (leadID, actionType) with patch — the post-hoc PING winner update.
	BulkUpdateByLeadAndAction(ctx context.Context, leadID string, actionType domain.ActionType, patch func(tx *domain.Transaction)) error

	// CountTodayForBuyer counts today's transactions for buyerID matching
	// actionType and status, for daily-volume eligibility filtering.
	CountTodayForBuyer(ctx context.Context, buyerID string, actionType domain.ActionType, status domain.TransactionStatus) (int, error)

	// GetBuyerServiceConfig loads the (buyer, serviceType) configuration.
	GetBuyerServiceConfig(ctx context.Context, buyerID, serviceTypeID string) (domain.BuyerServiceConfig, bool, error)

	// QueryZipCoverage lists every active coverage record matching
	// (serviceTypeID, zipCode).
	QueryZipCoverage(ctx context.Context, serviceTypeID, zipCode string) ([]domain.BuyerServiceZipCode, error)

	// GetBuyerTypes resolves a batch of buyer IDs to their BuyerType.
	GetBuyerTypes(ctx context.Context, buyerIDs []string) (map[string]domain.BuyerType, error)

	// GetBuyer loads the full Buyer record (auth config, timeouts,
	// contractor pricing/delivery fields).
	GetBuyer(ctx context.Context, buyerID string) (domain.Buyer, bool, error)

	// AppendDashboardNotification stores an in-app notification row for a
	// contractor's dashboard.
	AppendDashboardNotification(ctx context.Context, buyerID string, note DashboardNotification) error
}

// DashboardNotification is the in-app notification record the Notification
// Service's dashboard channel appends.
type DashboardNotification struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}
