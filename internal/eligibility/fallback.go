package eligibility

import (
	"context"
	"sync"

	"github.com/rivalapex/leadauction/internal/domain"
)

// FallbackRegistry is a small in-memory mirror of the primary store's buyer
// configuration, consulted only when the primary read fails. Grounded on
// the auction service's getDefaultWaterfall, which returns a fixed,
// hand-curated buyer list rather than failing the whole auction when its
// Redis-backed config cache is unavailable.
type FallbackRegistry struct {
	mu        sync.RWMutex
	buyers    map[string]domain.Buyer
	configs   map[string]domain.BuyerServiceConfig // key: buyerID|serviceTypeID
	zipCovers map[string][]domain.BuyerServiceZipCode // key: serviceTypeID|zipCode
}

// NewFallbackRegistry returns an empty registry; entries are added with
// Register.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{
		buyers:    make(map[string]domain.Buyer),
		configs:   make(map[string]domain.BuyerServiceConfig),
		zipCovers: make(map[string][]domain.BuyerServiceZipCode),
	}
}

func configKey(buyerID, serviceTypeID string) string { return buyerID + "|" + serviceTypeID }
func zipKey(serviceTypeID, zip string) string         { return serviceTypeID + "|" + zip }

// Register adds a buyer, its per-service config, and its zip coverage to
// the fallback set in one call.
func (f *FallbackRegistry) Register(buyer domain.Buyer, cfg domain.BuyerServiceConfig, zip domain.BuyerServiceZipCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyers[buyer.BuyerID] = buyer
	f.configs[configKey(cfg.BuyerID, cfg.ServiceTypeID)] = cfg
	k := zipKey(zip.ServiceTypeID, zip.ZipCode)
	f.zipCovers[k] = append(f.zipCovers[k], zip)
}

func (f *FallbackRegistry) zipCoverage(serviceTypeID, zip string) []domain.BuyerServiceZipCode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]domain.BuyerServiceZipCode(nil), f.zipCovers[zipKey(serviceTypeID, zip)]...)
}

// GetBuyer implements configSource.
func (f *FallbackRegistry) GetBuyer(_ context.Context, buyerID string) (domain.Buyer, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.buyers[buyerID]
	return b, ok, nil
}

// GetBuyerServiceConfig implements configSource.
func (f *FallbackRegistry) GetBuyerServiceConfig(_ context.Context, buyerID, serviceTypeID string) (domain.BuyerServiceConfig, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.configs[configKey(buyerID, serviceTypeID)]
	return c, ok, nil
}

// CountTodayForBuyer always reports zero: the fallback path is a
// last-resort degraded mode and does not track live volume counters.
func (f *FallbackRegistry) CountTodayForBuyer(_ context.Context, _ string, _ domain.ActionType, _ domain.TransactionStatus) (int, error) {
	return 0, nil
}
