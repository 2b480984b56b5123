// Package responseparser extracts accepted/rejected status and bid amount
// from heterogeneous buyer HTTP responses, grounded on the teacher's
// convertToGenericResponse (admob.go et al.) and commons.go's
// MapErrorToNoBid taxonomy — but modeled as a closed sum type per the
// "untyped response data → sum types" design note, rather than ad-hoc
// (*BidResponse, error) pairs.
package responseparser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rivalapex/leadauction/internal/domain"
)

// bidFieldCandidates is the closed probe list used when a buyer has no
// configured bid-amount field name (§4.2).
var bidFieldCandidates = []string{"bidAmount", "bid_amount", "price", "cost", "offer", "amount", "value", "lead_price"}

var acceptanceFields = []string{"status", "result"}
var acceptanceValues = map[string]bool{"accepted": true, "success": true}
var confirmationFields = []string{"leadId", "lead_id", "confirmation"}
var rejectionReasonFields = []string{"reason", "rejection_reason", "error", "message"}

// Result is the tagged variant a parse produces: exactly one of Accepted,
// Rejected, or Malformed is populated, selected by Kind.
type Result struct {
	Kind      ResultKind
	BidAmount string // decimal string, valid when Kind == Accepted
	RawStatus string
	Reason    domain.LostReason // valid when Kind == Rejected
	RawBody   string            // valid when Kind == Malformed
}

// ResultKind discriminates the Result sum type.
type ResultKind int

const (
	Accepted ResultKind = iota
	Rejected
	Malformed
)

// BidFieldConfig lets a buyer override the bid-amount field name; empty
// means "probe the closed candidate list".
type BidFieldConfig struct {
	BidAmountField string
}

// Parse extracts a Result from a buyer's response body and HTTP status code.
func Parse(body []byte, statusCode int, cfg BidFieldConfig) Result {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{Kind: Malformed, RawBody: string(body)}
	}

	if isAccepted(doc) {
		// A bid amount is meaningful for PING responses but absent from most
		// POST confirmations (e.g. {"accepted": true, "leadId": "..."}); an
		// accepted response with no extractable amount is still Accepted,
		// just with an empty BidAmount, not Malformed.
		amount, _ := extractBidAmount(doc, cfg)
		return Result{Kind: Accepted, BidAmount: amount, RawStatus: "accepted"}
	}

	reason := classifyRejection(doc, statusCode)
	return Result{Kind: Rejected, Reason: reason, RawStatus: "rejected"}
}

func isAccepted(doc map[string]interface{}) bool {
	if b, ok := doc["accepted"].(bool); ok && b {
		return true
	}
	if b, ok := doc["success"].(bool); ok && b {
		return true
	}
	for _, field := range acceptanceFields {
		if v, ok := doc[field].(string); ok && acceptanceValues[strings.ToLower(v)] {
			return true
		}
	}
	for _, field := range confirmationFields {
		if v, ok := doc[field]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}

func extractBidAmount(doc map[string]interface{}, cfg BidFieldConfig) (string, bool) {
	if cfg.BidAmountField != "" {
		return stringifyAmount(doc[cfg.BidAmountField])
	}
	for _, field := range bidFieldCandidates {
		if v, ok := stringifyAmount(doc[field]); ok {
			return v, true
		}
	}
	return "", false
}

func stringifyAmount(v interface{}) (string, bool) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case string:
		if n == "" {
			return "", false
		}
		return n, true
	default:
		return "", false
	}
}

// classifyRejection maps a rejected response to the lostReason enum by
// substring match on the response's reason/message fields, falling back to
// the HTTP status code's documented mapping (§4.3 step f).
func classifyRejection(doc map[string]interface{}, statusCode int) domain.LostReason {
	for _, field := range rejectionReasonFields {
		if v, ok := doc[field].(string); ok && v != "" {
			if reason, matched := matchReasonSubstring(v); matched {
				return reason
			}
		}
	}
	return statusCodeReason(statusCode)
}

func matchReasonSubstring(s string) (domain.LostReason, bool) {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "duplicate"):
		return domain.LostDuplicateLead, true
	case strings.Contains(lower, "cap") || strings.Contains(lower, "capacity") || strings.Contains(lower, "volume"):
		return domain.LostCapReached, true
	case strings.Contains(lower, "hour") || strings.Contains(lower, "schedule"):
		return domain.LostOutsideHours, true
	case strings.Contains(lower, "consent") || strings.Contains(lower, "compliance") || strings.Contains(lower, "tcpa"):
		return domain.LostComplianceMissing, true
	}
	return "", false
}

func statusCodeReason(statusCode int) domain.LostReason {
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
