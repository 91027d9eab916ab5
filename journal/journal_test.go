package journal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdnx/smartbot/testutils"
	"github.com/evdnx/smartbot/types"
)

func TestOpenedRow(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	r := OpenedRow(types.TradeSetup{
		PositionID: "paper_1", Symbol: "BTCUSDT", Side: types.Buy,
		Entry: 50_000, Size: 0.1, StopLoss: 49_850, TakeProfit: 50_250,
		RiskReward: 1.67, ATR: 100, RSI: 61.2, Paper: true, At: at,
	})
	assert.NotEqual(t, uuid.Nil, r.EventID)
	assert.Equal(t, KindOpened, r.Kind)
	assert.Equal(t, "BUY", r.Side)
	assert.Equal(t, uint8(1), r.Paper)
	assert.Equal(t, time.UTC, r.At.Location())
	assert.Equal(t, at.Unix(), r.At.Unix())
	assert.Zero(t, r.Exit)
}

func TestClosedRow(t *testing.T) {
	opened := time.Now().Add(-time.Hour)
	r := ClosedRow(types.ClosedTrade{
		PositionID: "42", Symbol: "BTCUSDT", Side: types.Sell,
		Entry: 50_000, Exit: 49_000, Size: 0.1, RealizedPnL: 100,
		Reason: "signal_reversal", OpenedAt: opened, ClosedAt: time.Now(),
	})
	assert.Equal(t, KindClosed, r.Kind)
	assert.Equal(t, uint8(0), r.Paper)
	assert.Equal(t, 100.0, r.RealizedPnL)
	assert.Equal(t, opened.Unix(), r.OpenedAt.Unix())
}

func TestRowValuesMatchTableColumns(t *testing.T) {
	ddl := createTableSQL("default", "trades")
	cols := 0
	for _, line := range strings.Split(ddl, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "CREATE") || strings.HasPrefix(line, ")") || strings.HasPrefix(line, "ORDER") {
			continue
		}
		cols++
	}
	assert.Equal(t, cols, len(Row{}.values()))
	assert.Contains(t, ddl, "default.trades")
}

func TestNopSink(t *testing.T) {
	var n Nop
	assert.NoError(t, n.TradeOpened(context.Background(), types.TradeSetup{}))
	assert.NoError(t, n.TradeClosed(context.Background(), types.ClosedTrade{}))
	assert.NoError(t, n.Close())
}

// fakeServer hands out batches that refuse rows of a poisoned position and
// fail Send while down is set.
type fakeServer struct {
	poison   string
	down     bool
	prepared int
	sent     []string // position ids
}

type fakeBatch struct {
	srv  *fakeServer
	rows []string
}

func (b *fakeBatch) Append(v ...any) error {
	id := v[2].(string)
	if id == b.srv.poison {
		return errors.New("clickhouse: converting string to Float64 is unsupported")
	}
	b.rows = append(b.rows, id)
	return nil
}

func (b *fakeBatch) Send() error {
	if b.srv.down {
		return errors.New("connection refused")
	}
	b.srv.sent = append(b.srv.sent, b.rows...)
	return nil
}

func (b *fakeBatch) Abort() error { return nil }

func newFakeJournal(srv *fakeServer, log *testutils.MockLogger) *ClickHouse {
	return &ClickHouse{
		table: "default.trades",
		log:   log,
		prepare: func(context.Context) (rowBatch, error) {
			srv.prepared++
			return &fakeBatch{srv: srv}, nil
		},
	}
}

func TestWriteDropsRowsTheDriverRefuses(t *testing.T) {
	srv := &fakeServer{poison: "bad"}
	log := testutils.NewMockLogger()
	j := newFakeJournal(srv, log)
	ctx := context.Background()

	require.NoError(t, j.TradeOpened(ctx, types.TradeSetup{PositionID: "bad", Side: types.Buy}))
	assert.True(t, log.HasMessage("error", "journal_row_dropped"))
	assert.Empty(t, j.pending)

	srv.down = true
	require.Error(t, j.TradeOpened(ctx, types.TradeSetup{PositionID: "1", Side: types.Buy}))
	srv.down = false
	j.pending = append(j.pending, OpenedRow(types.TradeSetup{PositionID: "bad", Side: types.Buy}))

	require.NoError(t, j.TradeClosed(ctx, types.ClosedTrade{PositionID: "1", Side: types.Buy}))
	assert.Equal(t, []string{"1", "1"}, srv.sent)
	assert.Empty(t, j.pending)
	assert.Equal(t, 2, log.Count("error", "journal_row_dropped"))
}

func TestWriteKeepsRowsWhenSendFails(t *testing.T) {
	srv := &fakeServer{down: true}
	j := newFakeJournal(srv, testutils.NewMockLogger())
	ctx := context.Background()

	err := j.TradeOpened(ctx, types.TradeSetup{PositionID: "1", Side: types.Buy})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch send")
	assert.Len(t, j.pending, 1)

	srv.down = false
	require.NoError(t, j.TradeClosed(ctx, types.ClosedTrade{PositionID: "1", Side: types.Buy}))
	assert.Equal(t, []string{"1", "1"}, srv.sent)
	assert.Empty(t, j.pending)
}
