package contractor_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivalapex/leadauction/internal/contractor"
	"github.com/rivalapex/leadauction/internal/domain"
	"github.com/rivalapex/leadauction/internal/money"
	"github.com/rivalapex/leadauction/internal/notify"
	"github.com/rivalapex/leadauction/internal/store"
)

// fakeStore is an in-memory Store with a real compare-and-swap on Status,
// mirroring the teacher's inMemoryBackend test convention, guarded by a
// mutex so the race-condition test is meaningful.
type fakeStore struct {
	mu             sync.Mutex
	status         domain.LeadStatus
	inserted       []domain.Transaction
	winningBuyerID string
	winningBid     string
}

func newFakeStore() *fakeStore { return &fakeStore{status: domain.LeadAuctioned} }

func (f *fakeStore) CreateLeadIfAbsent(context.Context, domain.Lead) (domain.Lead, error) { return domain.Lead{}, nil }
func (f *fakeStore) GetLead(context.Context, string) (domain.Lead, error)                  { return domain.Lead{}, nil }

func (f *fakeStore) UpdateLeadIfStatusIn(_ context.Context, _ string, allowed []domain.LeadStatus, newStatus domain.LeadStatus, winningBuyerID, winningBid string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range allowed {
		if f.status == s {
			f.status = newStatus
			f.winningBuyerID = winningBuyerID
			f.winningBid = winningBid
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, tx)
	return nil
}
func (f *fakeStore) BulkUpdateByLeadAndAction(context.Context, string, domain.ActionType, func(*domain.Transaction)) error {
	return nil
}
func (f *fakeStore) CountTodayForBuyer(context.Context, string, domain.ActionType, domain.TransactionStatus) (int, error) {
	return 0, nil
}
func (f *fakeStore) GetBuyerServiceConfig(context.Context, string, string) (domain.BuyerServiceConfig, bool, error) {
	return domain.BuyerServiceConfig{}, false, nil
}
func (f *fakeStore) QueryZipCoverage(context.Context, string, string) ([]domain.BuyerServiceZipCode, error) {
	return nil, nil
}
func (f *fakeStore) GetBuyerTypes(context.Context, []string) (map[string]domain.BuyerType, error) {
	return nil, nil
}
func (f *fakeStore) GetBuyer(context.Context, string) (domain.Buyer, bool, error) {
	return domain.Buyer{}, false, nil
}
func (f *fakeStore) AppendDashboardNotification(context.Context, string, store.DashboardNotification) error {
	return nil
}

func fixedBid(s string) money.Money {
	m, err := money.Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestDispatchExclusiveDeliversToTopRankedOnly(t *testing.T) {
	fs := newFakeStore()
	d := contractor.New(fs, notify.New(fs, nil))

	candidates := []contractor.Candidate{
		{Buyer: domain.Buyer{BuyerID: "low-priority", Priority: 5, PricingModel: domain.PricingFixed, FixedLeadPrice: fixedBid("40"), DeliveryMode: domain.DeliveryExclusive, NotifyDashboard: true}},
		{Buyer: domain.Buyer{BuyerID: "top", Priority: 1, PricingModel: domain.PricingFixed, FixedLeadPrice: fixedBid("40"), DeliveryMode: domain.DeliveryExclusive, NotifyDashboard: true}},
	}

	res := d.Dispatch(context.Background(), domain.Lead{LeadID: "lead-1"}, candidates, nil)

	assert.True(t, res.Delivered)
	assert.Equal(t, "top", res.WinningBuyerID)
	assert.Equal(t, "40.00", res.WinningBid.String())
	assert.Equal(t, 1, res.DeliveredCount)

	var nonSelected int
	for _, tx := range fs.inserted {
		if tx.BuyerID == "low-priority" {
			nonSelected++
			assert.Equal(t, domain.LostLowerPriority, tx.LostReason)
		}
	}
	assert.Equal(t, 1, nonSelected)
}

func TestDispatchSharedSumsWinningBidAcrossRecipients(t *testing.T) {
	fs := newFakeStore()
	d := contractor.New(fs, notify.New(fs, nil))

	mk := func(id string) contractor.Candidate {
		return contractor.Candidate{Buyer: domain.Buyer{
			BuyerID: id, Priority: 1, PricingModel: domain.PricingFixed,
			FixedLeadPrice: fixedBid("25"), DeliveryMode: domain.DeliveryShared, MaxSharedLeads: 3, NotifyDashboard: true,
		}}
	}
	candidates := []contractor.Candidate{mk("c1"), mk("c2"), mk("c3")}

	res := d.Dispatch(context.Background(), domain.Lead{LeadID: "lead-1"}, candidates, nil)

	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.DeliveredCount)
	assert.Equal(t, "75.00", res.WinningBid.String())

	assert.Equal(t, "75.00", fs.winningBid, "the persisted lead's winningBid must track the running sum, not just the first commit")
	assert.Equal(t, "c1", fs.winningBuyerID)
}

func TestDispatchHybridPricingFallsBackWithoutReferenceBid(t *testing.T) {
	fs := newFakeStore()
	d := contractor.New(fs, notify.New(fs, nil))

	candidates := []contractor.Candidate{
		{
			Buyer: domain.Buyer{BuyerID: "c1", PricingModel: domain.PricingHybrid, FixedLeadPrice: fixedBid("30"), DeliveryMode: domain.DeliveryExclusive, NotifyDashboard: true},
			Config: domain.BuyerServiceConfig{},
		},
	}

	res := d.Dispatch(context.Background(), domain.Lead{LeadID: "lead-1"}, candidates, nil)
	assert.Equal(t, "30.00", res.WinningBid.String())
}

func TestDispatchDetectsRaceWhenLeadAlreadySold(t *testing.T) {
	fs := newFakeStore()
	fs.status = domain.LeadSold // another writer already won
	d := contractor.New(fs, notify.New(fs, nil))

	candidates := []contractor.Candidate{
		{Buyer: domain.Buyer{BuyerID: "c1", PricingModel: domain.PricingFixed, FixedLeadPrice: fixedBid("40"), DeliveryMode: domain.DeliveryExclusive, NotifyDashboard: true}},
	}

	res := d.Dispatch(context.Background(), domain.Lead{LeadID: "lead-1"}, candidates, nil)
	assert.False(t, res.Delivered)
	assert.True(t, res.DuplicateRace)
}

func TestDispatchEmptyCandidatesIsNoop(t *testing.T) {
	fs := newFakeStore()
	d := contractor.New(fs, notify.New(fs, nil))
	res := d.Dispatch(context.Background(), domain.Lead{LeadID: "lead-1"}, nil, nil)
	require.False(t, res.Delivered)
}
