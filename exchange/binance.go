package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/evdnx/smartbot/logger"
	"github.com/evdnx/smartbot/types"
)

const (
	maxBody = 4 << 20
	// cached stream quotes older than this fall back to REST
	defaultQuoteMaxAge = 5 * time.Second
)

// defaultLotStep applies when a symbol lists no LOT_SIZE filter.
var defaultLotStep = decimal.New(1, -6)

// routes are the REST paths and stop order type of one Binance market.
type routes struct {
	klines       string
	bookTicker   string
	balance      string
	order        string
	exchangeInfo string
	stopType     string
}

var (
	spotRoutes = routes{
		klines:       "/api/v3/klines",
		bookTicker:   "/api/v3/ticker/bookTicker",
		balance:      "/api/v3/account",
		order:        "/api/v3/order",
		exchangeInfo: "/api/v3/exchangeInfo",
		stopType:     "STOP_LOSS",
	}
	futuresRoutes = routes{
		klines:       "/fapi/v1/klines",
		bookTicker:   "/fapi/v1/ticker/bookTicker",
		balance:      "/fapi/v2/balance",
		order:        "/fapi/v1/order",
		exchangeInfo: "/fapi/v1/exchangeInfo",
		stopType:     "STOP_MARKET",
	}
)

type BinanceConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int // ms, 0 leaves the exchange default
	Timeout    time.Duration
	// Spot selects the spot API; the default is USDT-M futures.
	Spot bool
}

// openPosition is what UpdateStop needs to place a protective order for a
// registered position.
type openPosition struct {
	symbol      string
	side        types.Side
	qty         float64
	stopOrderID int64
}

// Binance implements MarketDataSource, AccountSource and the order executor
// interfaces against the Binance USDT-M futures or spot REST API.
type Binance struct {
	cfg    BinanceConfig
	routes routes
	client *http.Client
	log    logger.Logger
	now    func() time.Time

	quotes      *QuoteStream
	quoteMaxAge time.Duration

	mu        sync.Mutex
	positions map[string]*openPosition // by entry order id
	lotSteps  map[string]decimal.Decimal
}

func NewBinance(cfg BinanceConfig, log logger.Logger) *Binance {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	r := futuresRoutes
	if cfg.Spot {
		r = spotRoutes
	}
	return &Binance{
		cfg:         cfg,
		routes:      r,
		client:      &http.Client{Timeout: timeout},
		log:         log,
		now:         time.Now,
		quoteMaxAge: defaultQuoteMaxAge,
		positions:   make(map[string]*openPosition),
		lotSteps:    make(map[string]decimal.Decimal),
	}
}

// UseQuoteStream makes FetchQuote prefer fresh quotes from s.
func (b *Binance) UseQuoteStream(s *QuoteStream) { b.quotes = s }

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (b *Binance) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
			return fmt.Errorf("%w: %s %s requires api credentials", ErrAPI, method, path)
		}
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		if b.cfg.RecvWindow > 0 {
			params.Set("recvWindow", strconv.Itoa(b.cfg.RecvWindow))
		}
		query = params.Encode()
		query += "&signature=" + sign(b.cfg.APISecret, query)
	}

	u := b.cfg.BaseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Code != 0 {
			return fmt.Errorf("%w: %s %s: %d %s", ErrAPI, method, path, e.Code, e.Msg)
		}
		return fmt.Errorf("%w: %s %s: status %d", ErrAPI, method, path, resp.StatusCode)
	}
	b.log.Debug("binance_request",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("bytes", len(body)))
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q", ErrAPI, t)
		}
		return d.InexactFloat64(), nil
	case float64:
		return t, nil
	}
	return 0, fmt.Errorf("%w: unexpected value %v", ErrAPI, v)
}

// FetchCandles returns up to limit klines, oldest first. An empty answer is
// an empty series, not an error.
func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) (types.Series, error) {
	if _, err := types.ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var rows [][]any
	if err := b.do(ctx, http.MethodGet, b.routes.klines, params, false, &rows); err != nil {
		return nil, err
	}

	series := make(types.Series, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: kline %d has %d fields", ErrAPI, i, len(row))
		}
		var vals [6]float64
		for j := 0; j < 6; j++ {
			f, err := toFloat(row[j])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j, err)
			}
			vals[j] = f
		}
		series = append(series, types.Candle{
			Timestamp: time.UnixMilli(int64(vals[0])).UTC(),
			Open:      vals[1],
			High:      vals[2],
			Low:       vals[3],
			Close:     vals[4],
			Volume:    vals[5],
		})
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

type bookTicker struct {
	Symbol   string `json:"symbol" validate:"required"`
	BidPrice string `json:"bidPrice" validate:"required,numeric"`
	AskPrice string `json:"askPrice" validate:"required,numeric"`
}

var validate = validator.New()

func (t bookTicker) quote() (types.Quote, error) {
	if err := validate.Struct(t); err != nil {
		return types.Quote{}, fmt.Errorf("%w: book ticker: %v", ErrAPI, err)
	}
	bid, err := decimal.NewFromString(t.BidPrice)
	if err != nil {
		return types.Quote{}, err
	}
	ask, err := decimal.NewFromString(t.AskPrice)
	if err != nil {
		return types.Quote{}, err
	}
	return types.Quote{Bid: bid.InexactFloat64(), Ask: ask.InexactFloat64()}, nil
}

// FetchQuote serves a fresh stream quote when one is available and asks REST
// otherwise.
func (b *Binance) FetchQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if b.quotes != nil && strings.EqualFold(b.quotes.Symbol(), symbol) {
		if q, ok := b.quotes.Latest(b.quoteMaxAge); ok {
			return q, nil
		}
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	var t bookTicker
	if err := b.do(ctx, http.MethodGet, b.routes.bookTicker, params, false, &t); err != nil {
		return types.Quote{}, err
	}
	return t.quote()
}

type accountInfo struct {
	Balances []struct {
		Asset  string `json:"asset" validate:"required"`
		Free   string `json:"free" validate:"required,numeric"`
		Locked string `json:"locked"`
	} `json:"balances" validate:"dive"`
}

type futuresBalance struct {
	Asset            string `json:"asset" validate:"required"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance" validate:"required,numeric"`
}

// freeBalances maps upper case asset names to the amount available for new
// orders.
func (b *Binance) freeBalances(ctx context.Context) (map[string]string, error) {
	if b.cfg.Spot {
		var info accountInfo
		if err := b.do(ctx, http.MethodGet, b.routes.balance, nil, true, &info); err != nil {
			return nil, err
		}
		if err := validate.Struct(info); err != nil {
			return nil, fmt.Errorf("%w: account: %v", ErrAPI, err)
		}
		free := make(map[string]string, len(info.Balances))
		for _, bal := range info.Balances {
			free[strings.ToUpper(bal.Asset)] = bal.Free
		}
		return free, nil
	}
	var list []futuresBalance
	if err := b.do(ctx, http.MethodGet, b.routes.balance, nil, true, &list); err != nil {
		return nil, err
	}
	free := make(map[string]string, len(list))
	for _, bal := range list {
		if err := validate.Struct(bal); err != nil {
			return nil, fmt.Errorf("%w: balance: %v", ErrAPI, err)
		}
		free[strings.ToUpper(bal.Asset)] = bal.AvailableBalance
	}
	return free, nil
}

// FetchFreeBalance returns the free amount of the first currency in
// currencies the account lists.
func (b *Binance) FetchFreeBalance(ctx context.Context, currencies []string) (float64, error) {
	free, err := b.freeBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range currencies {
		if v, ok := free[strings.ToUpper(c)]; ok {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return 0, fmt.Errorf("%w: balance %s: %v", ErrAPI, c, err)
			}
			return d.InexactFloat64(), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrBalanceNotFound, strings.Join(currencies, ","))
}

type orderAck struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"orderId" validate:"required"`
	Status  string `json:"status"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

func formatPrice(p float64) string { return decimal.NewFromFloat(p).Round(2).String() }

// lotStep returns the LOT_SIZE step of symbol, asking the exchange once per
// symbol.
func (b *Binance) lotStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	step, ok := b.lotSteps[symbol]
	b.mu.Unlock()
	if ok {
		return step, nil
	}

	params := url.Values{}
	if b.cfg.Spot {
		params.Set("symbol", symbol)
	}
	var info exchangeInfo
	if err := b.do(ctx, http.MethodGet, b.routes.exchangeInfo, params, false, &info); err != nil {
		return decimal.Zero, fmt.Errorf("lot size of %s: %w", symbol, err)
	}
	listed, filtered := false, false
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		listed = true
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			if d, err := decimal.NewFromString(f.StepSize); err == nil && d.IsPositive() {
				step, filtered = d, true
			}
		}
	}
	if !listed {
		return decimal.Zero, fmt.Errorf("%w: %s is not listed", ErrAPI, symbol)
	}
	if !filtered {
		step = defaultLotStep
		b.log.Warn("lot_step_missing", logger.String("symbol", symbol), logger.String("step", step.String()))
	}

	b.mu.Lock()
	b.lotSteps[symbol] = step
	b.mu.Unlock()
	return step, nil
}

// quantity rounds qty down to a multiple of the symbol's lot step, so an
// order never exceeds the size the caller risk-checked.
func (b *Binance) quantity(ctx context.Context, symbol string, qty float64) (string, error) {
	step, err := b.lotStep(ctx, symbol)
	if err != nil {
		return "", err
	}
	q := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	if !q.IsPositive() {
		return "", fmt.Errorf("%w: quantity %v is below the lot step %s", types.ErrInvalidArgument, qty, step)
	}
	return q.String(), nil
}

func (b *Binance) placeOrder(ctx context.Context, params url.Values) (orderAck, error) {
	var ack orderAck
	if err := b.do(ctx, http.MethodPost, b.routes.order, params, true, &ack); err != nil {
		return orderAck{}, err
	}
	if err := validate.Struct(ack); err != nil {
		return orderAck{}, fmt.Errorf("%w: order ack: %v", ErrAPI, err)
	}
	return ack, nil
}

// SubmitMarketOrder places a MARKET order and returns the exchange order id.
// The quantity is rounded down to the symbol's lot step.
func (b *Binance) SubmitMarketOrder(ctx context.Context, symbol string, side types.Side, size float64) (string, error) {
	if err := side.Validate(); err != nil {
		return "", err
	}
	if size <= 0 {
		return "", fmt.Errorf("%w: size %v", types.ErrInvalidArgument, size)
	}
	qty, err := b.quantity(ctx, symbol, size)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", qty)
	ack, err := b.placeOrder(ctx, params)
	if err != nil {
		return "", err
	}
	id := strconv.FormatInt(ack.OrderID, 10)
	b.log.Info("order_submitted",
		logger.String("id", id),
		logger.String("symbol", symbol),
		logger.String("side", string(side)),
		logger.String("qty", qty),
		logger.String("status", ack.Status))
	return id, nil
}

// RegisterPosition records the entry order positionID so UpdateStop can
// protect it.
func (b *Binance) RegisterPosition(positionID, symbol string, side types.Side, qty float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[positionID] = &openPosition{symbol: symbol, side: side, qty: qty}
}

// ForgetPosition drops the record of a closed position. Its stop must have
// been cancelled already.
func (b *Binance) ForgetPosition(positionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, positionID)
}

func (b *Binance) cancel(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return b.do(ctx, http.MethodDelete, b.routes.order, params, true, nil)
}

// UpdateStop replaces the stop order protecting positionID. It returns false
// without error when the position was never registered.
func (b *Binance) UpdateStop(ctx context.Context, positionID string, newStop float64) (bool, error) {
	b.mu.Lock()
	o, ok := b.positions[positionID]
	var snapshot openPosition
	if ok {
		snapshot = *o
	}
	b.mu.Unlock()
	if !ok {
		b.log.Warn("stop_for_unknown_position", logger.String("id", positionID))
		return false, nil
	}
	qty, err := b.quantity(ctx, snapshot.symbol, snapshot.qty)
	if err != nil {
		return false, err
	}

	if snapshot.stopOrderID != 0 {
		if err := b.cancel(ctx, snapshot.symbol, snapshot.stopOrderID); err != nil {
			return false, fmt.Errorf("cancel previous stop: %w", err)
		}
	}
	params := url.Values{}
	params.Set("symbol", snapshot.symbol)
	params.Set("side", string(snapshot.side.Opposite()))
	params.Set("type", b.routes.stopType)
	params.Set("quantity", qty)
	params.Set("stopPrice", formatPrice(newStop))
	if !b.cfg.Spot {
		params.Set("reduceOnly", "true")
	}
	ack, err := b.placeOrder(ctx, params)

	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.positions[positionID]; ok {
		if err != nil {
			o.stopOrderID = 0 // previous one is gone
		} else {
			o.stopOrderID = ack.OrderID
		}
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CancelStop removes the protective order of positionID. The position stays
// registered, so a later UpdateStop can protect it again.
func (b *Binance) CancelStop(ctx context.Context, positionID string) error {
	b.mu.Lock()
	o, ok := b.positions[positionID]
	var snapshot openPosition
	if ok {
		snapshot = *o
	}
	b.mu.Unlock()
	if !ok || snapshot.stopOrderID == 0 {
		return nil
	}
	if err := b.cancel(ctx, snapshot.symbol, snapshot.stopOrderID); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.positions[positionID]; ok && o.stopOrderID == snapshot.stopOrderID {
		o.stopOrderID = 0
	}
	return nil
}
