package domain

import "time"

// ActionType is the kind of attempt a Transaction records.
type ActionType string

const (
	ActionPing     ActionType = "PING"
	ActionPost     ActionType = "POST"
	ActionDelivery ActionType = "DELIVERY"
)

// TransactionStatus is the outcome of one attempt.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
	StatusTimeout TransactionStatus = "TIMEOUT"
)

// LostReason is the closed-set enum explaining why a non-winning
// transaction lost.
type LostReason string

const (
	LostOutbid             LostReason = "OUTBID"
	LostTimeout            LostReason = "TIMEOUT"
	LostNoBid              LostReason = "NO_BID"
	LostPostRejected       LostReason = "POST_REJECTED"
	LostCascadeExhausted   LostReason = "CASCADE_EXHAUSTED"
	LostDuplicateLead      LostReason = "DUPLICATE_LEAD"
	LostCapReached         LostReason = "CAP_REACHED"
	LostOutsideHours       LostReason = "OUTSIDE_HOURS"
	LostComplianceMissing  LostReason = "COMPLIANCE_MISSING"
	LostNotSelected        LostReason = "NOT_SELECTED"
	LostLowerPriority      LostReason = "LOWER_PRIORITY"
)

// Transaction is one audit row per PING/POST/DELIVERY attempt.
type Transaction struct {
	LeadID           string            `json:"lead_id"`
	BuyerID          string            `json:"buyer_id"`
	ActionType       ActionType        `json:"action_type"`
	Status           TransactionStatus `json:"status"`
	BidAmount        *string           `json:"bid_amount,omitempty"` // decimal string, nullable
	ResponseTimeMs   int64             `json:"response_time_ms"`
	Payload          string            `json:"payload,omitempty"`
	Response         string            `json:"response,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	IsWinner         *bool             `json:"is_winner,omitempty"`
	LostReason       LostReason        `json:"lost_reason,omitempty"`
	CascadePosition  *int              `json:"cascade_position,omitempty"`
	DeliveryMethod   string            `json:"delivery_method,omitempty"` // CSV of channels
	WinningBidAmount *string           `json:"winning_bid_amount,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// BoolPtr and IntPtr are small helpers for the many optional Transaction
// fields that are pointers rather than zero-valued.
func BoolPtr(b bool) *bool   { return &b }
func IntPtr(i int) *int     { return &i }
func StrPtr(s string) *string { return &s }
