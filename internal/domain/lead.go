// Package domain holds the persisted record types shared across every
// component of the auction engine: leads, buyers, buyer configuration,
// coverage records, and the transaction audit row.
package domain

import "time"

// LeadStatus is the lead's lifecycle state. Terminal states are immutable.
type LeadStatus string

const (
	LeadPending    LeadStatus = "PENDING"
	LeadProcessing LeadStatus = "PROCESSING"
	LeadAuctioned  LeadStatus = "AUCTIONED"
	LeadSold       LeadStatus = "SOLD"
	LeadRejected   LeadStatus = "REJECTED"
	LeadExpired    LeadStatus = "EXPIRED"
)

// IsTerminal reports whether s is one from which the lead never transitions.
func (s LeadStatus) IsTerminal() bool {
	switch s {
	case LeadSold, LeadRejected, LeadExpired:
		return true
	default:
		return false
	}
}

// PreAuctionStatuses are the statuses from which a conditional commit to
// SOLD is permitted.
var PreAuctionStatuses = []LeadStatus{LeadPending, LeadProcessing, LeadAuctioned}

// Lead is the consumer service request the engine matches to buyers.
type Lead struct {
	LeadID            string                 `json:"lead_id"`
	ServiceTypeID     string                 `json:"service_type_id"`
	ZipCode           string                 `json:"zip_code"`
	FormData          map[string]interface{} `json:"form_data"`
	OwnsHome          bool                   `json:"owns_home"`
	Timeframe         string                 `json:"timeframe"`
	TrustedFormCertID string                 `json:"trusted_form_cert_id,omitempty"`
	JornayaLeadID     string                 `json:"jornaya_lead_id,omitempty"`
	TCPAConsent       bool                   `json:"tcpa_consent"`

	Status         LeadStatus `json:"status"`
	WinningBuyerID string     `json:"winning_buyer_id,omitempty"`
	WinningBid     string     `json:"winning_bid,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTrustedForm and HasJornaya report whether the lead carries the given
// compliance artifact.
func (l Lead) HasTrustedForm() bool { return l.TrustedFormCertID != "" }
func (l Lead) HasJornaya() bool     { return l.JornayaLeadID != "" }
