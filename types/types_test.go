package types

import (
	"errors"
	"testing"
	"time"
)

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": Buy, "SELL": Sell, " Buy ": Buy} {
		got, err := ParseSide(in)
		if err != nil || got != want {
			t.Fatalf("ParseSide(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseSide("long"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := Side("HOLD").Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for HOLD, got %v", err)
	}
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Fatal("Opposite is not symmetric")
	}
}

func TestSeriesValidate(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := Series{{Timestamp: t0}, {Timestamp: t0.Add(time.Hour)}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := Series{{Timestamp: t0}, {Timestamp: t0}}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for duplicate timestamp, got %v", err)
	}
}

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("4h")
	if err != nil || d != 4*time.Hour {
		t.Fatalf("ParseTimeframe(4h) = %v, %v", d, err)
	}
	if _, err := ParseTimeframe("7h"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestQuote(t *testing.T) {
	q := Quote{Bid: 100, Ask: 102}
	if q.Spread() != 2 || q.Mid() != 101 {
		t.Fatalf("unexpected spread/mid: %v %v", q.Spread(), q.Mid())
	}
}
