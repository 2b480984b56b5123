package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
)

// RedisStore is the operational persistence layer: lead records, the
// transaction log, buyer/service/zip configuration, and daily volume
// counters all live as JSON strings and index keys the way the teacher's
// ledger and adapter-selector packages key Redis — one string per entity,
// a sorted set per transaction index, a set per zip-coverage index, and a
// list per dashboard feed.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore wraps an already-connected *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func leadKey(leadID string) string { return fmt.Sprintf("lead:%s", leadID) }
func txKey(id string) string       { return fmt.Sprintf("transaction:%s", id) }
func txIndexKey(leadID string, action domain.ActionType) string {
	return fmt.Sprintf("transactions:%s:%s", leadID, action)
}
func buyerKey(buyerID string) string { return fmt.Sprintf("buyer:%s", buyerID) }
func buyerConfigKey(buyerID, serviceTypeID string) string {
	return fmt.Sprintf("buyer_config:%s:%s", buyerID, serviceTypeID)
}
func zipCoverageIndexKey(serviceTypeID, zipCode string) string {
	return fmt.Sprintf("zip_coverage:%s:%s", serviceTypeID, zipCode)
}
func dailyVolumeKey(buyerID string, action domain.ActionType, status domain.TransactionStatus) string {
	return fmt.Sprintf("daily_volume:%s:%s:%s:%s", buyerID, action, status, time.Now().UTC().Format("2006-01-02"))
}
func dashboardKey(buyerID string) string { return fmt.Sprintf("dashboard:%s", buyerID) }

// CreateLeadIfAbsent mirrors the "SETNX"-style insert the ledger's balance
// keys use, generalized with a WATCH/MULTI transaction so the read-modify
// check is atomic rather than racy.
func (s *RedisStore) CreateLeadIfAbsent(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	key := leadKey(lead.LeadID)
	var stored domain.Lead

	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(existing, &stored)
		}
		if err != redis.Nil {
			return err
		}
		lead.CreatedAt = time.Now().UTC()
		lead.UpdatedAt = lead.CreatedAt
		if lead.Status == "" {
			lead.Status = domain.LeadPending
		}
		data, merr := json.Marshal(lead)
		if merr != nil {
			return merr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		stored = lead
		return err
	}

	if err := s.redis.Watch(ctx, txf, key); err != nil {
		return domain.Lead{}, err
	}
	return stored, nil
}

// GetLead fetches a lead by ID.
func (s *RedisStore) GetLead(ctx context.Context, leadID string) (domain.Lead, error) {
	data, err := s.redis.Get(ctx, leadKey(leadID)).Bytes()
	if err != nil {
		return domain.Lead{}, err
	}
	var lead domain.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

// UpdateLeadIfStatusIn is the at-most-one-winner primitive (§4.4, §8):
// the WATCH/MULTI transaction makes the "status ∈ allowed → commit"
// check-then-set atomic across concurrent auctions on the same lead, since
// the queue only guarantees no *concurrent* auctions on one lead, but races
// between the engine's own cascade and a duplicate dispatcher retry still
// must be serialized here.
func (s *RedisStore) UpdateLeadIfStatusIn(ctx context.Context, leadID string, allowed []domain.LeadStatus, newStatus domain.LeadStatus, winningBuyerID, winningBid string) (int, error) {
	key := leadKey(leadID)
	rowsUpdated := 0

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var lead domain.Lead
		if err := json.Unmarshal(data, &lead); err != nil {
			return err
		}
		if !statusIn(lead.Status, allowed) {
			rowsUpdated = 0
			return nil
		}
		lead.Status = newStatus
		lead.WinningBuyerID = winningBuyerID
		lead.WinningBid = winningBid
		lead.UpdatedAt = time.Now().UTC()
		newData, err := json.Marshal(lead)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			return nil
		})
		if err == nil {
			rowsUpdated = 1
		}
		return err
	}

	if err := s.redis.Watch(ctx, txf, key); err != nil {
		log.WithError(err).WithField("lead_id", leadID).Error("conditional lead commit failed")
		return 0, err
	}
	return rowsUpdated, nil
}

func statusIn(s domain.LeadStatus, allowed []domain.LeadStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// InsertTransaction appends one audit row, indexed by (leadID, actionType)
// for the bulk post-hoc update, the same ZAdd-sorted-set-index pattern the
// ledger's transaction history uses.
func (s *RedisStore) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	id := fmt.Sprintf("%s:%s:%d", tx.LeadID, tx.BuyerID, tx.CreatedAt.UnixNano())
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, txKey(id), data, 30*24*time.Hour)
	pipe.ZAdd(ctx, txIndexKey(tx.LeadID, tx.ActionType), redis.Z{Score: float64(tx.CreatedAt.UnixNano()), Member: id})
	if tx.Status == domain.StatusSuccess {
		pipe.Incr(ctx, dailyVolumeKey(tx.BuyerID, tx.ActionType, tx.Status))
		pipe.Expire(ctx, dailyVolumeKey(tx.BuyerID, tx.ActionType, tx.Status), 25*time.Hour)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// BulkUpdateByLeadAndAction re-reads every indexed transaction for
// (leadID, actionType) and applies patch — the post-hoc PING winner update
// and the cascade-induced winner-change rerun (§4.3 steps e and f).
func (s *RedisStore) BulkUpdateByLeadAndAction(ctx context.Context, leadID string, actionType domain.ActionType, patch func(tx *domain.Transaction)) error {
	ids, err := s.redis.ZRange(ctx, txIndexKey(leadID, actionType), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		data, err := s.redis.Get(ctx, txKey(id)).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return err
		}
		var tx domain.Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			return err
		}
		patch(&tx)
		newData, err := json.Marshal(tx)
		if err != nil {
			return err
		}
		if err := s.redis.Set(ctx, txKey(id), newData, redis.KeepTTL).Err(); err != nil {
			return err
		}
	}
	return nil
}

// CountTodayForBuyer reads the INCR-maintained daily counter. The key
// carries the UTC date, so the count starts again at UTC midnight; the
// 25h TTL only removes old keys. Only SUCCESS rows are counted, so any
// other status reads as zero.
func (s *RedisStore) CountTodayForBuyer(ctx context.Context, buyerID string, actionType domain.ActionType, status domain.TransactionStatus) (int, error) {
	n, err := s.redis.Get(ctx, dailyVolumeKey(buyerID, actionType, status)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// GetBuyerServiceConfig loads a (buyer, serviceType) configuration.
func (s *RedisStore) GetBuyerServiceConfig(ctx context.Context, buyerID, serviceTypeID string) (domain.BuyerServiceConfig, bool, error) {
	data, err := s.redis.Get(ctx, buyerConfigKey(buyerID, serviceTypeID)).Bytes()
	if err == redis.Nil {
		return domain.BuyerServiceConfig{}, false, nil
	}
	if err != nil {
		return domain.BuyerServiceConfig{}, false, err
	}
	var cfg domain.BuyerServiceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.BuyerServiceConfig{}, false, err
	}
	return cfg, true, nil
}

// SetBuyerServiceConfig is a write-path helper used by provisioning/tests;
// the core itself only reads configuration.
func (s *RedisStore) SetBuyerServiceConfig(ctx context.Context, cfg domain.BuyerServiceConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, buyerConfigKey(cfg.BuyerID, cfg.ServiceTypeID), data, 0).Err()
}

// QueryZipCoverage lists active coverage records for (serviceTypeID, zipCode),
// reading the whole set index with SMEMBERS, in the spirit of the adapter
// selector's getAllAdapters, but indexed directly by (serviceType, zip) since coverage
// records are written once per buyer onboarding, not per request.
func (s *RedisStore) QueryZipCoverage(ctx context.Context, serviceTypeID, zipCode string) ([]domain.BuyerServiceZipCode, error) {
	members, err := s.redis.SMembers(ctx, zipCoverageIndexKey(serviceTypeID, zipCode)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.BuyerServiceZipCode, 0, len(members))
	for _, m := range members {
		var rec domain.BuyerServiceZipCode
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			log.WithError(err).Warn("skipping malformed zip coverage record")
			continue
		}
		if rec.Active {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AddZipCoverage is a write-path helper for provisioning/tests.
func (s *RedisStore) AddZipCoverage(ctx context.Context, rec domain.BuyerServiceZipCode) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.SAdd(ctx, zipCoverageIndexKey(rec.ServiceTypeID, rec.ZipCode), data).Err()
}

// GetBuyerTypes resolves buyer IDs to BuyerType in one pipelined round-trip.
func (s *RedisStore) GetBuyerTypes(ctx context.Context, buyerIDs []string) (map[string]domain.BuyerType, error) {
	out := make(map[string]domain.BuyerType, len(buyerIDs))
	if len(buyerIDs) == 0 {
		return out, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(buyerIDs))
	for _, id := range buyerIDs {
		cmds[id] = pipe.Get(ctx, buyerKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for id, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var b domain.Buyer
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}
		out[id] = b.Type
	}
	return out, nil
}

// GetBuyer loads the full Buyer record.
func (s *RedisStore) GetBuyer(ctx context.Context, buyerID string) (domain.Buyer, bool, error) {
	data, err := s.redis.Get(ctx, buyerKey(buyerID)).Bytes()
	if err == redis.Nil {
		return domain.Buyer{}, false, nil
	}
	if err != nil {
		return domain.Buyer{}, false, err
	}
	var b domain.Buyer
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Buyer{}, false, err
	}
	return b, true, nil
}

// SetBuyer is a write-path helper for provisioning/tests.
func (s *RedisStore) SetBuyer(ctx context.Context, b domain.Buyer) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, buyerKey(b.BuyerID), data, 0).Err()
}

// AppendDashboardNotification pushes an in-app notification row, capped to
// the most recent 200 per buyer.
func (s *RedisStore) AppendDashboardNotification(ctx context.Context, buyerID string, note DashboardNotification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, dashboardKey(buyerID), data)
	pipe.LTrim(ctx, dashboardKey(buyerID), 0, 199)
	_, err = pipe.Exec(ctx)
	return err
}
