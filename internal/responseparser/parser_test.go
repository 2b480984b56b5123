package responseparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/responseparser"
)

func TestParseAcceptedWithBidAmount(t *testing.T) {
	body := []byte(`{"accepted": true, "bid_amount": 80.00}`)
	r := responseparser.Parse(body, 200, responseparser.BidFieldConfig{})
	assert.Equal(t, responseparser.Accepted, r.Kind)
	assert.Equal(t, "80", r.BidAmount)
}

func TestParseAcceptedViaLeadIdConfirmation(t *testing.T) {
	body := []byte(`{"leadId": "buyer-lead-123", "price": 55.5}`)
	r := responseparser.Parse(body, 200, responseparser.BidFieldConfig{})
	assert.Equal(t, responseparser.Accepted, r.Kind)
	assert.Equal(t, "55.5", r.BidAmount)
}

func TestParseRejectedWithSubstringReason(t *testing.T) {
	body := []byte(`{"reason": "duplicate lead already sold"}`)
	r := responseparser.Parse(body, 409, responseparser.BidFieldConfig{})
	assert.Equal(t, responseparser.Rejected, r.Kind)
	assert.Equal(t, domain.LostDuplicateLead, r.Reason)
}

func TestParseRejectedFallsBackToStatusCode(t *testing.T) {
	r := responseparser.Parse([]byte(`{}`), 429, responseparser.BidFieldConfig{})
	assert.Equal(t, responseparser.Rejected, r.Kind)
	assert.Equal(t, domain.LostCapReached, r.Reason)
}

func TestParseMalformedOnInvalidJSON(t *testing.T) {
	r := responseparser.Parse([]byte(`not json`), 200, responseparser.BidFieldConfig{})
	assert.Equal(t, responseparser.Malformed, r.Kind)
}

func TestParseConfiguredBidField(t *testing.T) {
	body := []byte(`{"success": true, "custom_field": 42}`)
	r := responseparser.Parse(body, 200, responseparser.BidFieldConfig{BidAmountField: "custom_field"})
	assert.Equal(t, responseparser.Accepted, r.Kind)
	assert.Equal(t, "42", r.BidAmount)
}
