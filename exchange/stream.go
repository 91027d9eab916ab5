package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/types"
)

const (
	streamReadLimit   = 1 << 16
	handshakeTimeout  = 10 * time.Second
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// bookTickerEvent is the payload of <symbol>@bookTicker.
type bookTickerEvent struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	BidQty   string `json:"B"`
	Ask      string `json:"a"`
	AskQty   string `json:"A"`
}

// QuoteStream keeps the latest top of book for one symbol from the Binance
// websocket stream.
type QuoteStream struct {
	url    string
	symbol string
	log    logger.Logger
	dialer *websocket.Dialer
	now    func() time.Time

	mu      sync.RWMutex
	quote   types.Quote
	updated time.Time
}

// NewQuoteStream subscribes to baseURL/ws/<symbol>@bookTicker once Run is
// called.
func NewQuoteStream(baseURL, symbol string, log logger.Logger) *QuoteStream {
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteStream{
		url:    fmt.Sprintf("%s/ws/%s@bookTicker", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol)),
		symbol: strings.ToUpper(symbol),
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		now:    time.Now,
	}
}

func (s *QuoteStream) Symbol() string { return s.symbol }

// Latest returns the cached quote if it is younger than maxAge.
func (s *QuoteStream) Latest(maxAge time.Duration) (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updated.IsZero() || s.now().Sub(s.updated) > maxAge {
		return types.Quote{}, false
	}
	return s.quote, true
}

func (s *QuoteStream) handle(data []byte) error {
	var ev bookTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if ev.Bid == "" || ev.Ask == "" {
		// subscription acks and other control frames
		return nil
	}
	bid, err := decimal.NewFromString(ev.Bid)
	if err != nil {
		return err
	}
	ask, err := decimal.NewFromString(ev.Ask)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.quote = types.Quote{Bid: bid.InexactFloat64(), Ask: ask.InexactFloat64()}
	s.updated = s.now()
	s.mu.Unlock()
	return nil
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff. It always returns ctx.Err().
func (s *QuoteStream) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("quote_stream_disconnected",
			logger.String("url", s.url),
			logger.Duration("retry_in", delay),
			logger.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *QuoteStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	conn.SetReadLimit(streamReadLimit)
	s.log.Info("quote_stream_connected", logger.String("url", s.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by server")
			}
			return err
		}
		if err := s.handle(data); err != nil {
			s.log.Warn("quote_stream_bad_message", logger.Err(err))
		}
	}
}
