package exchange

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/koofree/trading-bot/internal/logging"
)

const (
	defaultBaseURL = "https://api.upbit.com"
	kstLayout      = "2006-01-02T15:04:05"
)

// UpbitClient is an authenticated Upbit REST client
type UpbitClient struct {
	accessKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// UpbitConfig holds client construction parameters
type UpbitConfig struct {
	AccessKey string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// NewUpbitClient creates a new Upbit REST client
func NewUpbitClient(cfg *UpbitConfig, logger *logging.Logger) *UpbitClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &UpbitClient{
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("upbit"),
	}
}

// upbitCandle is the Upbit minute candle wire format
type upbitCandle struct {
	Market             string  `json:"market"`
	CandleDateTimeKST  string  `json:"candle_date_time_kst"`
	OpeningPrice       float64 `json:"opening_price"`
	HighPrice          float64 `json:"high_price"`
	LowPrice           float64 `json:"low_price"`
	TradePrice         float64 `json:"trade_price"`
	CandleAccVolume    float64 `json:"candle_acc_trade_volume"`
	TimestampMillis    int64   `json:"timestamp"`
}

func (u *upbitCandle) toCandle() Candle {
	ts, err := time.Parse(kstLayout, u.CandleDateTimeKST)
	if err != nil {
		ts = time.UnixMilli(u.TimestampMillis)
	}
	return Candle{
		Market:    u.Market,
		Open:      u.OpeningPrice,
		High:      u.HighPrice,
		Low:       u.LowPrice,
		Close:     u.TradePrice,
		Volume:    u.CandleAccVolume,
		Timestamp: ts,
	}
}

// GetCandles fetches minute candles, returned oldest first
func (c *UpbitClient) GetCandles(ctx context.Context, market string, unit, count int) ([]Candle, error) {
	if count <= 0 {
		count = 200
	}
	params := url.Values{}
	params.Set("market", market)
	params.Set("count", strconv.Itoa(count))

	path := fmt.Sprintf("/v1/candles/minutes/%d", unit)
	body, err := c.doRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching candles for %s: %w", market, err)
	}

	var raw []upbitCandle
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing candle response: %w", err)
	}

	// Upbit returns newest first
	candles := make([]Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		candle := raw[i].toCandle()
		if candle.IsValid() {
			candles = append(candles, candle)
		}
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

type upbitTicker struct {
	Market            string  `json:"market"`
	TradePrice        float64 `json:"trade_price"`
	Change            string  `json:"change"`
	SignedChangeRate  float64 `json:"signed_change_rate"`
	AccTradeVolume24h float64 `json:"acc_trade_volume_24h"`
	TimestampMillis   int64   `json:"timestamp"`
}

// GetTicker fetches the current price snapshot for a market
func (c *UpbitClient) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	params := url.Values{}
	params.Set("markets", market)

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/ticker", params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching ticker for %s: %w", market, err)
	}

	var raw []upbitTicker
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing ticker response: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no ticker data for %s", market)
	}

	t := raw[0]
	return &Ticker{
		Market:            t.Market,
		TradePrice:        t.TradePrice,
		Change:            t.Change,
		ChangeRate:        t.SignedChangeRate,
		AccTradeVolume24h: t.AccTradeVolume24h,
		Timestamp:         time.UnixMilli(t.TimestampMillis),
	}, nil
}

type upbitAccount struct {
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance,string"`
	Locked       float64 `json:"locked,string"`
	AvgBuyPrice  float64 `json:"avg_buy_price,string"`
	UnitCurrency string  `json:"unit_currency"`
}

// GetAccounts fetches all balances
func (c *UpbitClient) GetAccounts(ctx context.Context) ([]Account, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching accounts: %w", err)
	}

	var raw []upbitAccount
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing accounts response: %w", err)
	}

	accounts := make([]Account, 0, len(raw))
	for _, a := range raw {
		accounts = append(accounts, Account{
			Currency:     a.Currency,
			Balance:      a.Balance,
			Locked:       a.Locked,
			AvgBuyPrice:  a.AvgBuyPrice,
			UnitCurrency: a.UnitCurrency,
		})
	}
	return accounts, nil
}

type upbitOrder struct {
	UUID            string  `json:"uuid"`
	Market          string  `json:"market"`
	Side            string  `json:"side"`
	OrdType         string  `json:"ord_type"`
	State           string  `json:"state"`
	Price           float64 `json:"price,string"`
	Volume          float64 `json:"volume,string"`
	ExecutedVolume  float64 `json:"executed_volume,string"`
	RemainingVolume float64 `json:"remaining_volume,string"`
	PaidFee         float64 `json:"paid_fee,string"`
	CreatedAt       string  `json:"created_at"`
}

func (u *upbitOrder) toOrder() *Order {
	createdAt, err := time.Parse(time.RFC3339, u.CreatedAt)
	if err != nil {
		createdAt = time.Now()
	}
	return &Order{
		UUID:            u.UUID,
		Market:          u.Market,
		Side:            OrderSide(u.Side),
		Type:            OrderType(u.OrdType),
		State:           OrderState(u.State),
		Price:           u.Price,
		Volume:          u.Volume,
		ExecutedVolume:  u.ExecutedVolume,
		RemainingVolume: u.RemainingVolume,
		PaidFee:         u.PaidFee,
		CreatedAt:       createdAt,
	}
}

// PlaceOrder submits an order
func (c *UpbitClient) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("market", req.Market)
	params.Set("side", string(req.Side))
	params.Set("ord_type", string(req.Type))
	if req.Volume > 0 {
		params.Set("volume", strconv.FormatFloat(req.Volume, 'f', 8, 64))
	}
	if req.Price > 0 {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}

	payload := map[string]string{}
	for key := range params {
		payload[key] = params.Get(key)
	}
	bodyData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding order request: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", params, bodyData)
	if err != nil {
		return nil, fmt.Errorf("placing %s order on %s: %w", req.Side, req.Market, err)
	}

	var raw upbitOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}

	c.logger.Info("order placed",
		"market", req.Market,
		"side", string(req.Side),
		"type", string(req.Type),
		"uuid", raw.UUID)
	return raw.toOrder(), nil
}

// GetOrder fetches an order by UUID
func (c *UpbitClient) GetOrder(ctx context.Context, orderUUID string) (*Order, error) {
	params := url.Values{}
	params.Set("uuid", orderUUID)

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/order", params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", orderUUID, err)
	}

	var raw upbitOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}
	return raw.toOrder(), nil
}

// CancelOrder cancels an open order by UUID
func (c *UpbitClient) CancelOrder(ctx context.Context, orderUUID string) error {
	params := url.Values{}
	params.Set("uuid", orderUUID)

	if _, err := c.doRequest(ctx, http.MethodDelete, "/v1/order", params, nil); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderUUID, err)
	}
	return nil
}

// authToken builds the JWT bearer token for a request. Requests with
// query parameters additionally carry a SHA512 hash of the query string.
func (c *UpbitClient) authToken(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}

	if len(params) > 0 {
		hash := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(hash[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("signing auth token: %w", err)
	}
	return signed, nil
}

type upbitError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *UpbitClient) doRequest(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 && method != http.MethodPost {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	token, err := c.authToken(params)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr upbitError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Name != "" {
			return nil, fmt.Errorf("upbit API error %d (%s): %s",
				resp.StatusCode, apiErr.Error.Name, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("upbit API error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
