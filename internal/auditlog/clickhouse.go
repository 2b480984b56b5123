// Package auditlog provides a durable, query-friendly copy of the
// transaction log in ClickHouse, grounded on the analytics service's
// ClickHouseClient (MergeTree table, PrepareBatch insert, partition by
// month, TTL-bounded retention). Redis remains the operational store the
// core reads/writes against (store.RedisStore); this package only
// receives a fan-out copy of every transaction for reporting.
package auditlog

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"

	"github.com/rivalapex/leadauction/internal/domain"
)

// Sink writes Transaction rows to ClickHouse for reporting/analytics
// queries the operational store isn't shaped for (daily acceptance rate
// per buyer, lost-reason breakdowns, cascade-depth histograms).
type Sink struct {
	conn driver.Conn
}

// NewSink dials ClickHouse at addr and ensures the transactions table
// exists.
func NewSink(addr, database, username, password string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings:    clickhouse.Settings{"max_execution_time": 60},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &Sink{conn: conn}
	if err := s.initSchema(context.Background()); err != nil {
		log.WithError(err).Warn("auditlog: schema initialization skipped")
	}
	log.Info("auditlog: connected to ClickHouse")
	return s, nil
}

func (s *Sink) Close() error { return s.conn.Close() }

func (s *Sink) initSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS transactions (
		lead_id String,
		buyer_id String,
		action_type String,
		status String,
		bid_amount Nullable(String),
		response_time_ms Int64,
		is_winner UInt8,
		lost_reason String,
		cascade_position Nullable(Int32),
		delivery_method String,
		winning_bid_amount Nullable(String),
		created_at DateTime,
		date Date MATERIALIZED toDate(created_at)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(date)
	ORDER BY (lead_id, buyer_id, created_at)
	TTL date + INTERVAL 180 DAY
	`
	return s.conn.Exec(ctx, ddl)
}

// Insert appends one transaction row.
func (s *Sink) Insert(ctx context.Context, tx domain.Transaction) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO transactions")
	if err != nil {
		return err
	}

	isWinner := uint8(0)
	if tx.IsWinner != nil && *tx.IsWinner {
		isWinner = 1
	}
	var cascadePosition *int32
	if tx.CascadePosition != nil {
		v := int32(*tx.CascadePosition)
		cascadePosition = &v
	}

	err = batch.Append(
		tx.LeadID,
		tx.BuyerID,
		string(tx.ActionType),
		string(tx.Status),
		tx.BidAmount,
		tx.ResponseTimeMs,
		isWinner,
		string(tx.LostReason),
		cascadePosition,
		tx.DeliveryMethod,
		tx.WinningBidAmount,
		tx.CreatedAt,
	)
	if err != nil {
		return err
	}
	return batch.Send()
}

// BuyerAcceptanceRate returns the fraction of POST attempts for buyerID
// that were accepted (isWinner=1) within [start, end), the metric the
// eligibility resolver's acceptance-weighted score (§4.1) is meant to
// consume once live health feedback is wired in.
func (s *Sink) BuyerAcceptanceRate(ctx context.Context, buyerID string, start, end time.Time) (float64, error) {
	const q = `
		SELECT countIf(is_winner = 1) / nullIf(count(*), 0)
		FROM transactions
		WHERE buyer_id = ? AND action_type = 'POST' AND created_at >= ? AND created_at < ?
	`
	row := s.conn.QueryRow(ctx, q, buyerID, start, end)
	var rate float64
	if err := row.Scan(&rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// LostReasonBreakdown counts transactions per lostReason in [start, end),
// for the dashboard behind the dropped-lead drill-down.
func (s *Sink) LostReasonBreakdown(ctx context.Context, serviceTypeID string, start, end time.Time) (map[string]int64, error) {
	const q = `
		SELECT lost_reason, count(*) AS n
		FROM transactions
		WHERE lost_reason != '' AND created_at >= ? AND created_at < ?
		GROUP BY lost_reason
	`
	rows, err := s.conn.Query(ctx, q, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason] = n
	}
	return out, rows.Err()
}
