package domain

import (
	"time"

	"github.com/rivalapex/leadauction/internal/money"
)

// BuyerType distinguishes auction-eligible networks from direct-delivery
// contractors.
type BuyerType string

const (
	BuyerNetwork    BuyerType = "NETWORK"
	BuyerContractor BuyerType = "CONTRACTOR"
)

// AuthType selects how outbound requests to a network buyer authenticate.
type AuthType string

const (
	AuthAPIKey AuthType = "apiKey"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

// AuthConfig describes a network buyer's outbound authentication.
type AuthConfig struct {
	Type     AuthType          `json:"type"`
	APIKey   string            `json:"api_key,omitempty"`
	Token    string            `json:"token,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// PricingModel is how a contractor's effective price is computed.
type PricingModel string

const (
	PricingFixed   PricingModel = "FIXED"
	PricingAuction PricingModel = "AUCTION"
	PricingHybrid  PricingModel = "HYBRID"
)

// DeliveryMode selects exclusive-vs-shared contractor delivery.
type DeliveryMode string

const (
	DeliveryExclusive DeliveryMode = "EXCLUSIVE"
	DeliveryShared    DeliveryMode = "SHARED"
)

// Buyer is either a NETWORK (PING/POST auction participant) or a
// CONTRACTOR (direct-delivery recipient).
type Buyer struct {
	BuyerID      string     `json:"buyer_id"`
	Type         BuyerType  `json:"type"`
	Active       bool       `json:"active"`
	Auth         AuthConfig `json:"auth_config"`
	PingTimeoutMs int       `json:"ping_timeout_ms"`
	PostTimeoutMs int       `json:"post_timeout_ms"`
	PingURL      string     `json:"ping_url,omitempty"`
	PostURL      string     `json:"post_url,omitempty"`

	// Contractor-only fields.
	PricingModel    PricingModel `json:"pricing_model,omitempty"`
	FixedLeadPrice  money.Money  `json:"fixed_lead_price,omitempty"`
	DeliveryMode    DeliveryMode `json:"delivery_mode,omitempty"`
	MaxSharedLeads  int          `json:"max_shared_leads,omitempty"`
	Priority        int          `json:"priority,omitempty"`
	NotifyEmail     bool         `json:"notify_email,omitempty"`
	NotifyWebhook   bool         `json:"notify_webhook,omitempty"`
	NotifyDashboard bool         `json:"notify_dashboard,omitempty"`
	ContactEmail    string       `json:"contact_email,omitempty"`
	ContactName     string       `json:"contact_name,omitempty"`
	WebhookURL      string       `json:"webhook_url,omitempty"`
	WebhookSecret   string       `json:"webhook_secret,omitempty"`
}

// IsNetwork and IsContractor are convenience predicates used throughout the
// auction engine's candidate partitioning.
func (b Buyer) IsNetwork() bool    { return b.Type == BuyerNetwork }
func (b Buyer) IsContractor() bool { return b.Type == BuyerContractor }

// GeoRestrictionType selects include-vs-exclude zip filtering.
type GeoRestrictionType string

const (
	GeoInclude GeoRestrictionType = "include"
	GeoExclude GeoRestrictionType = "exclude"
)

// GeoRestriction restricts a BuyerServiceConfig to or from a zip list.
type GeoRestriction struct {
	Type     GeoRestrictionType `json:"type"`
	ZipCodes []string           `json:"zip_codes"`
}

// TimeWindow restricts a BuyerServiceConfig to certain days/hours, in the
// server's local wall-clock time.
type TimeWindow struct {
	DaysOfWeek []time.Weekday `json:"days_of_week"`
	StartHour  int            `json:"start_hour"`
	EndHour    int            `json:"end_hour"`
}

// Restrictions bundles the optional eligibility filters of a
// BuyerServiceConfig.
type Restrictions struct {
	Geo             *GeoRestriction `json:"geo,omitempty"`
	TimeWindows     []TimeWindow    `json:"time_windows,omitempty"`
	DailyVolumeLimit int            `json:"daily_volume_limit,omitempty"`
}

// BuyerServiceConfig is the per-(buyer, serviceType) configuration governing
// eligibility, pricing bounds, templates, and compliance requirements.
type BuyerServiceConfig struct {
	BuyerID       string   `json:"buyer_id"`
	ServiceTypeID string   `json:"service_type_id"`
	PingTemplate  Template `json:"ping_template"`
	PostTemplate  Template `json:"post_template"`

	MinBid *money.Money `json:"min_bid,omitempty"`
	MaxBid *money.Money `json:"max_bid,omitempty"`
	Active bool         `json:"active"`

	Restrictions *Restrictions `json:"restrictions,omitempty"`

	RequireTrustedForm bool `json:"require_trusted_form"`
	RequireJornaya     bool `json:"require_jornaya"`
	RequireTCPAConsent bool `json:"require_tcpa_consent"`

	// BidAmountField names the JSON field this buyer's PING/POST responses
	// use for the bid amount. Empty means the response parser falls back to
	// its closed probe list (§4.2).
	BidAmountField string `json:"bid_amount_field,omitempty"`
}

// BuyerServiceZipCode is a single coverage record: a buyer covers a service
// type in a zip code at a given priority, with optional per-zip overrides.
type BuyerServiceZipCode struct {
	BuyerID       string       `json:"buyer_id"`
	ServiceTypeID string       `json:"service_type_id"`
	ZipCode       string       `json:"zip_code"`
	Priority      int          `json:"priority"` // lower = higher rank
	Active        bool         `json:"active"`
	MinBid        *money.Money `json:"min_bid,omitempty"`
	MaxBid        *money.Money `json:"max_bid,omitempty"`
	MaxLeadsPerDay int         `json:"max_leads_per_day,omitempty"`
}
