package auction_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivalapex/leadauction/internal/auction"
	"github.com/rivalapex/leadauction/internal/contractor"
	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/eligibility"
	"github.com/rivalapex/leadauction/internal/httpclient"
	"github.com/rivalapex/leadauction/internal/money"
	"github.com/rivalapex/leadauction/internal/notify"
	"github.com/rivalapex/leadauction/internal/store"
)

// fakeStore is a minimal in-memory Store with a real conditional commit,
// following the teacher's inMemoryBackend test convention.
type fakeStore struct {
	mu           sync.Mutex
	leadStatus   map[string]domain.LeadStatus
	transactions []domain.Transaction
	buyers       map[string]domain.Buyer
	configs      map[string]domain.BuyerServiceConfig
	zips         map[string][]domain.BuyerServiceZipCode
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leadStatus: map[string]domain.LeadStatus{},
		buyers:     map[string]domain.Buyer{},
		configs:    map[string]domain.BuyerServiceConfig{},
		zips:       map[string][]domain.BuyerServiceZipCode{},
	}
}

func (f *fakeStore) CreateLeadIfAbsent(_ context.Context, lead domain.Lead) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.leadStatus[lead.LeadID]; !ok {
		f.leadStatus[lead.LeadID] = domain.LeadAuctioned
	}
	return lead, nil
}

func (f *fakeStore) GetLead(_ context.Context, leadID string) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Lead{LeadID: leadID, Status: f.leadStatus[leadID]}, nil
}

func (f *fakeStore) UpdateLeadIfStatusIn(_ context.Context, leadID string, allowed []domain.LeadStatus, newStatus domain.LeadStatus, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.leadStatus[leadID]
	for _, s := range allowed {
		if cur == s {
			f.leadStatus[leadID] = newStatus
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions = append(f.transactions, tx)
	return nil
}

func (f *fakeStore) BulkUpdateByLeadAndAction(_ context.Context, leadID string, actionType domain.ActionType, patch func(*domain.Transaction)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.transactions {
		if f.transactions[i].LeadID == leadID && f.transactions[i].ActionType == actionType {
			patch(&f.transactions[i])
		}
	}
	return nil
}

func (f *fakeStore) CountTodayForBuyer(context.Context, string, domain.ActionType, domain.TransactionStatus) (int, error) {
	return 0, nil
}

func (f *fakeStore) GetBuyerServiceConfig(_ context.Context, buyerID, serviceTypeID string) (domain.BuyerServiceConfig, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[buyerID+"|"+serviceTypeID]
	return c, ok, nil
}

func (f *fakeStore) QueryZipCoverage(_ context.Context, serviceTypeID, zip string) ([]domain.BuyerServiceZipCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zips[serviceTypeID+"|"+zip], nil
}

func (f *fakeStore) GetBuyerTypes(context.Context, []string) (map[string]domain.BuyerType, error) { return nil, nil }

func (f *fakeStore) GetBuyer(_ context.Context, buyerID string) (domain.Buyer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buyers[buyerID]
	return b, ok, nil
}

func (f *fakeStore) AppendDashboardNotification(context.Context, string, store.DashboardNotification) error {
	return nil
}

func (f *fakeStore) addNetwork(buyerID string, priority int, serviceTypeID, zip string) {
	f.buyers[buyerID] = domain.Buyer{BuyerID: buyerID, Type: domain.BuyerNetwork, Active: true, PingTimeoutMs: 2000, PostTimeoutMs: 2000, PingURL: "http://ping/" + buyerID, PostURL: "http://post/" + buyerID}
	f.configs[buyerID+"|"+serviceTypeID] = domain.BuyerServiceConfig{BuyerID: buyerID, ServiceTypeID: serviceTypeID, Active: true}
	key := serviceTypeID + "|" + zip
	f.zips[key] = append(f.zips[key], domain.BuyerServiceZipCode{BuyerID: buyerID, ServiceTypeID: serviceTypeID, ZipCode: zip, Priority: priority, Active: true})
}

func (f *fakeStore) addContractor(buyerID string, priority int, price string, mode domain.DeliveryMode, serviceTypeID, zip string) {
	p, _ := money.Parse(price)
	f.buyers[buyerID] = domain.Buyer{
		BuyerID: buyerID, Type: domain.BuyerContractor, Active: true, Priority: priority,
		PricingModel: domain.PricingFixed, FixedLeadPrice: p, DeliveryMode: mode, MaxSharedLeads: 3,
		NotifyDashboard: true,
	}
	f.configs[buyerID+"|"+serviceTypeID] = domain.BuyerServiceConfig{BuyerID: buyerID, ServiceTypeID: serviceTypeID, Active: true}
	key := serviceTypeID + "|" + zip
	f.zips[key] = append(f.zips[key], domain.BuyerServiceZipCode{BuyerID: buyerID, ServiceTypeID: serviceTypeID, ZipCode: zip, Priority: priority, Active: true})
}

// scriptedClient returns a scripted response (or error) per buyer URL,
// keyed by request kind, grounded on the design note "pluggable HTTP
// client is the only practical way to script per-buyer responses".
type scriptedClient struct {
	mu        sync.Mutex
	responses map[string]func(httpclient.Request) (*httpclient.Response, error)
	calls     []httpclient.Request
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{responses: map[string]func(httpclient.Request) (*httpclient.Response, error){}}
}

func (c *scriptedClient) on(url string, fn func(httpclient.Request) (*httpclient.Response, error)) {
	c.responses[url] = fn
}

func (c *scriptedClient) Do(_ context.Context, req httpclient.Request) (*httpclient.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	fn, ok := c.responses[req.URL]
	c.mu.Unlock()
	if !ok {
		return &httpclient.Response{StatusCode: 404, Body: []byte(`{}`)}, nil
	}
	return fn(req)
}

func jsonResp(status int, v interface{}) (*httpclient.Response, error) {
	b, _ := json.Marshal(v)
	return &httpclient.Response{StatusCode: status, Body: b}, nil
}

func buildEngine(fs *fakeStore, client httpclient.Client) *auction.Engine {
	resolver := eligibility.New(fs, nil)
	dispatcher := contractor.New(fs, notify.New(fs, nil))
	return auction.New(fs, resolver, client, dispatcher)
}

// seedLead marks a lead AUCTIONED, the pre-auction state a queue consumer
// would have already set before invoking RunAuction.
func (f *fakeStore) seedLead(leadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leadStatus[leadID] = domain.LeadAuctioned
}

func TestRunAuctionSingleNetworkWinner(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-80", 1, "roofing", "90210")
	fs.addNetwork("buyer-60", 2, "roofing", "90210")

	fs.seedLead("L1")
	client := newScriptedClient()
	client.on("http://ping/buyer-80", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 80})
	})
	client.on("http://ping/buyer-60", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 60})
	})
	client.on("http://post/buyer-80", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "leadId": "ext-1"})
	})

	engine := buildEngine(fs, client)
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L1", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	require.Equal(t, auction.StatusCompleted, res.Status)
	require.NotNil(t, res.WinningBuyerID)
	assert.Equal(t, "buyer-80", *res.WinningBuyerID)
	assert.Equal(t, "80.00", *res.WinningBidAmount)
	assert.Equal(t, domain.LeadSold, fs.leadStatus["L1"])

	var pingLoser, postWinner *domain.Transaction
	for i := range fs.transactions {
		tx := &fs.transactions[i]
		if tx.ActionType == domain.ActionPing && tx.BuyerID == "buyer-60" {
			pingLoser = tx
		}
		if tx.ActionType == domain.ActionPost && tx.BuyerID == "buyer-80" {
			postWinner = tx
		}
	}
	require.NotNil(t, pingLoser)
	assert.Equal(t, domain.LostOutbid, pingLoser.LostReason)
	require.NotNil(t, postWinner)
	assert.True(t, *postWinner.IsWinner)
	assert.Equal(t, 1, *postWinner.CascadePosition)
}

func TestRunAuctionCascadeOnRejection(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-100", 1, "roofing", "90210")
	fs.addNetwork("buyer-75", 2, "roofing", "90210")
	fs.addNetwork("buyer-50", 3, "roofing", "90210")
	fs.seedLead("L2")

	client := newScriptedClient()
	client.on("http://ping/buyer-100", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 100})
	})
	client.on("http://ping/buyer-75", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 75})
	})
	client.on("http://ping/buyer-50", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 50})
	})
	client.on("http://post/buyer-100", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(409, map[string]interface{}{"reason": "duplicate lead"})
	})
	client.on("http://post/buyer-75", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "leadId": "ext-2"})
	})

	engine := buildEngine(fs, client)
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L2", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	require.Equal(t, auction.StatusCompleted, res.Status)
	assert.Equal(t, "buyer-75", *res.WinningBuyerID)

	var post100, post75, ping100, ping75 *domain.Transaction
	for i := range fs.transactions {
		tx := &fs.transactions[i]
		switch {
		case tx.ActionType == domain.ActionPost && tx.BuyerID == "buyer-100":
			post100 = tx
		case tx.ActionType == domain.ActionPost && tx.BuyerID == "buyer-75":
			post75 = tx
		case tx.ActionType == domain.ActionPing && tx.BuyerID == "buyer-100":
			ping100 = tx
		case tx.ActionType == domain.ActionPing && tx.BuyerID == "buyer-75":
			ping75 = tx
		}
	}
	require.NotNil(t, post100)
	assert.False(t, *post100.IsWinner)
	assert.Equal(t, domain.LostDuplicateLead, post100.LostReason)
	assert.Equal(t, 1, *post100.CascadePosition)

	require.NotNil(t, post75)
	assert.True(t, *post75.IsWinner)
	assert.Equal(t, 2, *post75.CascadePosition)

	require.NotNil(t, ping100)
	assert.False(t, *ping100.IsWinner)
	require.NotNil(t, ping75)
	assert.True(t, *ping75.IsWinner)
}

func TestRunAuctionWinnerChangePreservesTimeoutReason(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-100", 1, "roofing", "90210")
	fs.addNetwork("buyer-75", 2, "roofing", "90210")
	fs.addNetwork("buyer-timeout", 3, "roofing", "90210")
	fs.buyers["buyer-timeout"] = withTimeout(fs.buyers["buyer-timeout"], 1)
	fs.seedLead("L8")

	client := newScriptedClient()
	client.on("http://ping/buyer-100", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 100})
	})
	client.on("http://ping/buyer-75", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 75})
	})
	client.on("http://ping/buyer-timeout", func(httpclient.Request) (*httpclient.Response, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, context.DeadlineExceeded
	})
	client.on("http://post/buyer-100", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(409, map[string]interface{}{"reason": "duplicate lead"})
	})
	client.on("http://post/buyer-75", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "leadId": "ext-8"})
	})

	engine := buildEngine(fs, client)
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L8", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	require.Equal(t, auction.StatusCompleted, res.Status)
	assert.Equal(t, "buyer-75", *res.WinningBuyerID)

	var pingTimeout *domain.Transaction
	for i := range fs.transactions {
		tx := &fs.transactions[i]
		if tx.ActionType == domain.ActionPing && tx.BuyerID == "buyer-timeout" {
			pingTimeout = tx
		}
	}
	require.NotNil(t, pingTimeout)
	assert.Equal(t, domain.LostTimeout, pingTimeout.LostReason, "a winner change must not relabel a timed-out buyer's PING row as NO_BID")
}

func TestRunAuctionCascadeExhaustedWithContractorFallback(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-1", 1, "roofing", "90210")
	fs.addNetwork("buyer-2", 2, "roofing", "90210")
	fs.addContractor("contractor-1", 1, "40", domain.DeliveryExclusive, "roofing", "90210")
	fs.seedLead("L3")

	client := newScriptedClient()
	client.on("http://ping/buyer-1", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 90})
	})
	client.on("http://ping/buyer-2", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 70})
	})
	client.on("http://post/buyer-1", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(409, map[string]interface{}{"reason": "duplicate"})
	})
	client.on("http://post/buyer-2", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(409, map[string]interface{}{"reason": "duplicate"})
	})

	engine := buildEngine(fs, client)
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L3", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	require.Equal(t, auction.StatusCompleted, res.Status)
	assert.Equal(t, "contractor-1", *res.WinningBuyerID)
	assert.Equal(t, "40.00", *res.WinningBidAmount)
	assert.Equal(t, domain.LeadSold, fs.leadStatus["L3"])

	for i := range fs.transactions {
		tx := &fs.transactions[i]
		if tx.ActionType == domain.ActionPing {
			assert.Equal(t, domain.LostCascadeExhausted, tx.LostReason)
		}
	}
}

func TestRunAuctionSharedContractorsSumBid(t *testing.T) {
	fs := newFakeStore()
	fs.addContractor("c1", 1, "25", domain.DeliveryShared, "roofing", "90210")
	fs.addContractor("c2", 1, "25", domain.DeliveryShared, "roofing", "90210")
	fs.addContractor("c3", 1, "25", domain.DeliveryShared, "roofing", "90210")
	fs.buyers["c1"] = withMaxShared(fs.buyers["c1"], 3)
	fs.buyers["c2"] = withMaxShared(fs.buyers["c2"], 3)
	fs.buyers["c3"] = withMaxShared(fs.buyers["c3"], 3)
	fs.seedLead("L4")

	engine := buildEngine(fs, newScriptedClient())
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L4", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	require.Equal(t, auction.StatusCompleted, res.Status)
	assert.Equal(t, "75.00", *res.WinningBidAmount)
}

func withMaxShared(b domain.Buyer, n int) domain.Buyer { b.MaxSharedLeads = n; return b }

func TestRunAuctionHonorsPerBuyerBidAmountField(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-custom", 1, "roofing", "90210")
	cfg := fs.configs["buyer-custom|roofing"]
	cfg.BidAmountField = "our_offer"
	fs.configs["buyer-custom|roofing"] = cfg

	client := newScriptedClient()
	client.on("http://ping/buyer-custom", func(httpclient.Request) (*httpclient.Response, error) {
		// "bid_amount" deliberately wrong so only the configured field counts.
		return jsonResp(200, map[string]interface{}{"accepted": true, "our_offer": 65, "bid_amount": 5})
	})
	client.on("http://post/buyer-custom", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "leadId": "ext-custom"})
	})
	fs.seedLead("L9")

	engine := buildEngine(fs, client)
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L9", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	require.Equal(t, auction.StatusCompleted, res.Status)
	assert.Equal(t, "65.00", *res.WinningBidAmount, "BidAmountField override must be consulted, not just the probe list")
}

func TestRunAuctionAllPingsTimeOutYieldsNoBids(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-1", 1, "roofing", "90210")
	fs.buyers["buyer-1"] = withTimeout(fs.buyers["buyer-1"], 1)

	client := newScriptedClient()
	client.on("http://ping/buyer-1", func(httpclient.Request) (*httpclient.Response, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, context.DeadlineExceeded
	})

	engine := buildEngine(fs, client)
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L5", ServiceTypeID: "roofing", ZipCode: "90210"}, auction.DefaultConfig())

	assert.Equal(t, auction.StatusNoBids, res.Status)
	for i := range fs.transactions {
		assert.Equal(t, domain.StatusTimeout, fs.transactions[i].Status)
	}
}

func withTimeout(b domain.Buyer, ms int) domain.Buyer { b.PingTimeoutMs = ms; return b }

func TestRunAuctionZeroEligibleBuyersFails(t *testing.T) {
	fs := newFakeStore()
	engine := buildEngine(fs, newScriptedClient())
	res := engine.RunAuction(context.Background(), domain.Lead{LeadID: "L6", ServiceTypeID: "roofing", ZipCode: "00000"}, auction.DefaultConfig())

	assert.Equal(t, auction.StatusFailed, res.Status)
	assert.Empty(t, fs.transactions)
	assert.NotContains(t, fs.leadStatus, "L6")
}

func TestRunAuctionRaceSecondCallerGetsZeroRows(t *testing.T) {
	fs := newFakeStore()
	fs.addNetwork("buyer-80", 1, "roofing", "90210")
	fs.leadStatus["L7"] = domain.LeadAuctioned

	client := newScriptedClient()
	client.on("http://ping/buyer-80", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "bid_amount": 80})
	})
	client.on("http://post/buyer-80", func(httpclient.Request) (*httpclient.Response, error) {
		return jsonResp(200, map[string]interface{}{"accepted": true, "leadId": "ext-9"})
	})

	engine := buildEngine(fs, client)
	lead := domain.Lead{LeadID: "L7", ServiceTypeID: "roofing", ZipCode: "90210"}

	res1 := engine.RunAuction(context.Background(), lead, auction.DefaultConfig())
	require.Equal(t, auction.StatusCompleted, res1.Status)

	res2 := engine.RunAuction(context.Background(), lead, auction.DefaultConfig())
	assert.NotEqual(t, auction.StatusCompleted, res2.Status)
}
