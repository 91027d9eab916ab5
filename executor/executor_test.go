package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/evdnx/smartbot/types"
)

func TestPaper_SubmitFabricatesUniqueIDs(t *testing.T) {
	ex := NewPaper(nil)
	ctx := context.Background()

	id1, err := ex.SubmitMarketOrder(ctx, "BTCUSDT", types.Buy, 0.5)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	id2, err := ex.SubmitMarketOrder(ctx, "BTCUSDT", types.Sell, 0.5)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !strings.HasPrefix(id1, PaperIDPrefix) || id1 == id2 {
		t.Fatalf("expected distinct paper ids, got %q and %q", id1, id2)
	}
	orders := ex.Orders()
	if len(orders) != 2 || orders[0].Side != types.Buy || orders[0].Qty != 0.5 {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestPaper_RejectsBadInput(t *testing.T) {
	ex := NewPaper(nil)
	if _, err := ex.SubmitMarketOrder(context.Background(), "BTCUSDT", "HOLD", 1); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad side, got %v", err)
	}
	if _, err := ex.SubmitMarketOrder(context.Background(), "BTCUSDT", types.Buy, 0); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero size, got %v", err)
	}
}

func TestPaper_StopLifecycle(t *testing.T) {
	ex := NewPaper(nil)
	ctx := context.Background()
	ok, err := ex.UpdateStop(ctx, "p1", 49_850)
	if err != nil || !ok {
		t.Fatalf("UpdateStop = %v, %v", ok, err)
	}
	if s, found := ex.Stop("p1"); !found || s != 49_850 {
		t.Fatalf("stop not recorded: %v %v", s, found)
	}
	if err := ex.CancelStop(ctx, "p1"); err != nil {
		t.Fatalf("CancelStop: %v", err)
	}
	if _, found := ex.Stop("p1"); found {
		t.Fatal("stop still present after cancel")
	}
}
