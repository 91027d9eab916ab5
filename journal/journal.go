// Package journal appends trade lifecycle events to ClickHouse. It is write
// only: nothing is read back on restart.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/types"
)

const (
	KindOpened = "opened"
	KindClosed = "closed"

	// rows kept for retry while the server is unreachable
	maxPending = 1000
)

// Row is one journal record. Field order matches the table columns.
type Row struct {
	EventID       uuid.UUID
	Kind          string
	PositionID    string
	Symbol        string
	Side          string
	Entry         float64
	Exit          float64
	Size          float64
	StopLoss      float64
	TakeProfit    float64
	RiskReward    float64
	ATR           float64
	RSI           float64
	RealizedPnL   float64
	HighestProfit float64
	LowestProfit  float64
	Reason        string
	Paper         uint8
	OpenedAt      time.Time
	At            time.Time
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// OpenedRow maps a trade setup to a journal row.
func OpenedRow(s types.TradeSetup) Row {
	return Row{
		EventID:    uuid.New(),
		Kind:       KindOpened,
		PositionID: s.PositionID,
		Symbol:     s.Symbol,
		Side:       string(s.Side),
		Entry:      s.Entry,
		Size:       s.Size,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		RiskReward: s.RiskReward,
		ATR:        s.ATR,
		RSI:        s.RSI,
		Paper:      boolToUint8(s.Paper),
		OpenedAt:   s.At.UTC(),
		At:         s.At.UTC(),
	}
}

// ClosedRow maps a closed trade to a journal row.
func ClosedRow(t types.ClosedTrade) Row {
	return Row{
		EventID:       uuid.New(),
		Kind:          KindClosed,
		PositionID:    t.PositionID,
		Symbol:        t.Symbol,
		Side:          string(t.Side),
		Entry:         t.Entry,
		Exit:          t.Exit,
		Size:          t.Size,
		RealizedPnL:   t.RealizedPnL,
		HighestProfit: t.HighestProfit,
		LowestProfit:  t.LowestProfit,
		Reason:        t.Reason,
		Paper:         boolToUint8(t.Paper),
		OpenedAt:      t.OpenedAt.UTC(),
		At:            t.ClosedAt.UTC(),
	}
}

func (r Row) values() []any {
	return []any{
		r.EventID, r.Kind, r.PositionID, r.Symbol, r.Side,
		r.Entry, r.Exit, r.Size, r.StopLoss, r.TakeProfit, r.RiskReward, r.ATR, r.RSI,
		r.RealizedPnL, r.HighestProfit, r.LowestProfit,
		r.Reason, r.Paper, r.OpenedAt, r.At,
	}
}

func createTableSQL(database, table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	event_id       UUID,
	kind           LowCardinality(String),
	position_id    String,
	symbol         LowCardinality(String),
	side           LowCardinality(String),
	entry          Float64,
	exit           Float64,
	size           Float64,
	stop_loss      Float64,
	take_profit    Float64,
	risk_reward    Float64,
	atr            Float64,
	rsi            Float64,
	realized_pnl   Float64,
	highest_profit Float64,
	lowest_profit  Float64,
	reason         String,
	paper          UInt8,
	opened_at      DateTime64(3, 'UTC'),
	at             DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (symbol, at)`, database, table)
}

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// rowBatch is the part of driver.Batch the journal uses.
type rowBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// ClickHouse writes journal rows through the native protocol.
type ClickHouse struct {
	conn    driver.Conn
	prepare func(ctx context.Context) (rowBatch, error)
	table   string
	log     logger.Logger

	mu      sync.Mutex
	pending []Row
}

// Open connects, pings and makes sure the table exists.
func Open(ctx context.Context, opts Options, log logger.Logger) (*ClickHouse, error) {
	if log == nil {
		log = logger.Nop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL(opts.Database, opts.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}
	log.Info("journal_ready", logger.String("addr", opts.Addr), logger.String("table", opts.Table))
	c := &ClickHouse{
		conn:  conn,
		table: opts.Database + "." + opts.Table,
		log:   log,
	}
	c.prepare = func(ctx context.Context) (rowBatch, error) {
		batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+c.table)
		if err != nil {
			return nil, err
		}
		return batch, nil
	}
	return c, nil
}

func (c *ClickHouse) TradeOpened(ctx context.Context, s types.TradeSetup) error {
	return c.write(ctx, OpenedRow(s))
}

func (c *ClickHouse) TradeClosed(ctx context.Context, t types.ClosedTrade) error {
	return c.write(ctx, ClosedRow(t))
}

// write queues r and flushes everything pending. Rows that fail to send stay
// queued for the next write. A row the driver refuses to append can never
// succeed and is dropped.
func (c *ClickHouse) write(ctx context.Context, r Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, r)
	if n := len(c.pending); n > maxPending {
		c.log.Warn("journal_rows_dropped", logger.Int("count", n-maxPending))
		c.pending = append([]Row(nil), c.pending[n-maxPending:]...)
	}

	for len(c.pending) > 0 {
		batch, err := c.prepare(ctx)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		bad := -1
		for i, row := range c.pending {
			if err := batch.Append(row.values()...); err != nil {
				_ = batch.Abort()
				c.log.Error("journal_row_dropped",
					logger.String("event_id", row.EventID.String()),
					logger.String("kind", row.Kind),
					logger.String("position_id", row.PositionID),
					logger.Err(err))
				bad = i
				break
			}
		}
		if bad >= 0 {
			c.pending = append(c.pending[:bad], c.pending[bad+1:]...)
			continue
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("batch send: %w", err)
		}
		c.pending = c.pending[:0]
	}
	return nil
}

func (c *ClickHouse) Close() error { return c.conn.Close() }

// Nop discards every event.
type Nop struct{}

func (Nop) TradeOpened(context.Context, types.TradeSetup) error { return nil }
func (Nop) TradeClosed(context.Context, types.ClosedTrade) error { return nil }
func (Nop) Close() error                                         { return nil }
