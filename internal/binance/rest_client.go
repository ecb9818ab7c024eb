package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crypto-trading-bot-go/internal/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL         = "https://api.binance.com/api/v3"
	testnetBaseURL  = "https://testnet.binance.vision/api/v3"
	OrderTypeMarket = "MARKET"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"

	defaultRecvWindow     = 5000 // How long a request is valid in milliseconds
	defaultInitialBackoff = 500 * time.Millisecond
)

// ErrMissingCredentials is returned by signed endpoints when no API key pair is configured.
var ErrMissingCredentials = errors.New("binance API credentials are not configured")

// ErrOrderNotFilled is returned when a MARKET order comes back with nothing executed.
var ErrOrderNotFilled = errors.New("order was not filled")

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("binance API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("binance API error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetAllTickerPrices(ctx context.Context) (map[string]string, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error)
	GetAccount(ctx context.Context) (*AccountResponse, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	CreateOrder(ctx context.Context, symbol, side string, quantity float64) (*CreateOrderResponse, error)
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client         *resty.Client
	apiKey         string
	secretKey      string
	recvWindow     int
	maxRetries     int
	initialBackoff time.Duration
	logger         *zap.Logger
	limiter        *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	url := cfg.BaseURL
	switch {
	case url != "":
		logger.Info("Using custom Binance API endpoint", zap.String("url", url))
	case cfg.Testnet:
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	default:
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(url, "/")).
		SetTimeout(10 * time.Second)

	// rate.Limit is requests per second.
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &RestClient{
		client:         client,
		apiKey:         cfg.ApiKey,
		secretKey:      cfg.SecretKey,
		recvWindow:     recvWindow,
		maxRetries:     maxRetries,
		initialBackoff: defaultInitialBackoff,
		logger:         logger.Named("binance"),
		limiter:        rate.NewLimiter(limit, burst),
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery adds timestamp, recvWindow and signature to params.
func (c *RestClient) signedQuery(params url.Values) (string, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return "", ErrMissingCredentials
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	query := params.Encode()
	return query + "&signature=" + c.sign(query), nil
}

func parseAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return apiErr
}

// rateLimitError carries the exchange error alongside the Retry-After hint, so
// the delay drives the backoff and callers still see the *APIError.
type rateLimitError struct {
	apiErr *APIError
	retry  error
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("%s (%s)", e.apiErr.Error(), e.retry.Error())
}

func (e *rateLimitError) Unwrap() []error {
	return []error{e.apiErr, e.retry}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// 429/418 honour Retry-After, 5xx and transport errors back off exponentially,
// any other 4xx fails immediately.
func (c *RestClient) doRequest(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	operation := func() (*resty.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err := req.SetContext(ctx).Execute(method, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !resp.IsError() {
			return resp, nil
		}

		apiErr := parseAPIError(resp)
		statusCode := resp.StatusCode()
		switch {
		case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
			if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && seconds > 0 {
				c.logger.Warn("Rate limited by exchange", zap.Int("retry_after_seconds", seconds))
				return nil, &rateLimitError{apiErr: apiErr, retry: backoff.RetryAfter(seconds)}
			}
			return nil, apiErr
		case statusCode >= http.StatusInternalServerError:
			return nil, apiErr
		default:
			return nil, backoff.Permanent(apiErr)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.initialBackoff * 8

	notify := func(err error, next time.Duration) {
		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Duration("retry_after", next),
			zap.Error(err),
		)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	return resp, nil
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetAllTickerPrices fetches the latest price for all symbols.
func (c *RestClient) GetAllTickerPrices(ctx context.Context) (map[string]string, error) {
	var prices []*TickerPrice

	req := c.client.R().
		SetResult(&prices)

	resp, err := c.doRequest(ctx, http.MethodGet, "/ticker/price", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get all ticker prices: %w", err)
	}

	result := resp.Result().(*[]*TickerPrice)
	priceMap := make(map[string]string, len(*result))
	for _, p := range *result {
		priceMap[p.Symbol] = p.Price
	}

	return priceMap, nil
}

// GetTickerPrice fetches the latest price for one symbol.
func (c *RestClient) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&TickerPrice{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get ticker price for %s: %w", symbol, err)
	}

	ticker := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q for %s: %w", ticker.Price, symbol, err)
	}
	return price, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	Filters    []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// We are interested in the LOT_SIZE filter to get the stepSize.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetResult(&exchangeInfo)

	resp, err := c.doRequest(ctx, http.MethodGet, "/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// Balance is one asset line of the account.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountResponse is the signed /account payload.
type AccountResponse struct {
	AccountType string    `json:"accountType"`
	CanTrade    bool      `json:"canTrade"`
	UpdateTime  int64     `json:"updateTime"`
	Balances    []Balance `json:"balances"`
}

// GetAccount fetches balances for the configured API key.
func (c *RestClient) GetAccount(ctx context.Context) (*AccountResponse, error) {
	query, err := c.signedQuery(url.Values{})
	if err != nil {
		return nil, err
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query).
		SetResult(&AccountResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/account", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return resp.Result().(*AccountResponse), nil
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime    int64   `json:"open_time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	CloseTime   int64   `json:"close_time"`
	QuoteVolume float64 `json:"quote_volume"`
	Trades      int64   `json:"trades"`
}

// GetKlines fetches OHLCV candles. Binance answers with positional arrays.
func (c *RestClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var raw [][]interface{}

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw)

	if _, err := c.doRequest(ctx, http.MethodGet, "/klines", req); err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(raw))
	for i, row := range raw {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("invalid kline %d for %s: %w", i, symbol, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(row []interface{}) (Kline, error) {
	if len(row) < 9 {
		return Kline{}, fmt.Errorf("expected at least 9 fields, got %d", len(row))
	}

	num := func(v interface{}) (float64, error) {
		switch t := v.(type) {
		case float64:
			return t, nil
		case string:
			return strconv.ParseFloat(t, 64)
		default:
			return 0, fmt.Errorf("unexpected field type %T", v)
		}
	}

	var (
		k      Kline
		values [9]float64
		err    error
	)
	for i := 0; i < 9; i++ {
		if values[i], err = num(row[i]); err != nil {
			return Kline{}, err
		}
	}
	k.OpenTime = int64(values[0])
	k.Open, k.High, k.Low, k.Close, k.Volume = values[1], values[2], values[3], values[4], values[5]
	k.CloseTime = int64(values[6])
	k.QuoteVolume = values[7]
	k.Trades = int64(values[8])
	return k, nil
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// AveragePrice derives the fill price from the executed and quote quantities.
func (r *CreateOrderResponse) AveragePrice() (price, executedQty, quoteQty float64) {
	executedQty, _ = strconv.ParseFloat(r.ExecutedQuantity, 64)
	quoteQty, _ = strconv.ParseFloat(r.CummulativeQuoteQty, 64)
	if executedQty > 0 {
		price = quoteQty / executedQty
	}
	return price, executedQty, quoteQty
}

// CreateOrder places a new MARKET order on Binance.
func (c *RestClient) CreateOrder(ctx context.Context, symbol, side string, quantity float64) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("newClientOrderId", "bot-"+strings.ReplaceAll(uuid.NewString(), "-", "")[:24])
	params.Set("newOrderRespType", "RESULT")

	body, err := c.signedQuery(params)
	if err != nil {
		return nil, err
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		SetResult(&CreateOrderResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/order", req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order", zap.Any("order", result))
	return result, nil
}
