package exchange

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func newTestClient(serverURL string) *UpbitClient {
	return NewUpbitClient(&UpbitConfig{
		AccessKey: "test-access",
		SecretKey: "test-secret",
		BaseURL:   serverURL,
	}, nil)
}

func TestGetCandlesMapsAndReorders(t *testing.T) {
	// Upbit returns newest first; the client must return oldest first
	payload := `[
		{"market":"KRW-ETH","candle_date_time_kst":"2024-01-01T11:00:00","opening_price":105,"high_price":110,"low_price":104,"trade_price":108,"candle_acc_trade_volume":50,"timestamp":1704074400000},
		{"market":"KRW-ETH","candle_date_time_kst":"2024-01-01T10:00:00","opening_price":100,"high_price":106,"low_price":99,"trade_price":105,"candle_acc_trade_volume":40,"timestamp":1704070800000}
	]`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/candles/minutes/60") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("market") != "KRW-ETH" {
			t.Errorf("expected market=KRW-ETH, got %s", r.URL.Query().Get("market"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candles, err := client.GetCandles(context.Background(), "KRW-ETH", 60, 2)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].Timestamp.Before(candles[1].Timestamp) {
		t.Error("candles should be ordered oldest first")
	}

	first := candles[0]
	if first.Open != 100 || first.High != 106 || first.Low != 99 || first.Close != 105 || first.Volume != 40 {
		t.Errorf("field mapping wrong: %+v", first)
	}
}

func TestGetCandlesDropsInvalid(t *testing.T) {
	// second candle has high below close
	payload := `[
		{"market":"KRW-ETH","candle_date_time_kst":"2024-01-01T11:00:00","opening_price":105,"high_price":101,"low_price":104,"trade_price":108,"candle_acc_trade_volume":50},
		{"market":"KRW-ETH","candle_date_time_kst":"2024-01-01T10:00:00","opening_price":100,"high_price":106,"low_price":99,"trade_price":105,"candle_acc_trade_volume":40}
	]`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	candles, err := client.GetCandles(context.Background(), "KRW-ETH", 60, 2)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected invalid candle to be dropped, got %d candles", len(candles))
	}
}

func TestAuthTokenCarriesQueryHash(t *testing.T) {
	client := newTestClient("http://example.invalid")

	params := url.Values{}
	params.Set("market", "KRW-ETH")
	params.Set("count", "10")

	signed, err := client.authToken(params)
	if err != nil {
		t.Fatalf("authToken failed: %v", err)
	}

	token, err := jwt.Parse(signed, func(t *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token does not verify: %v", err)
	}

	claims := token.Claims.(jwt.MapClaims)
	if claims["access_key"] != "test-access" {
		t.Errorf("expected access_key claim, got %v", claims["access_key"])
	}
	if claims["nonce"] == "" || claims["nonce"] == nil {
		t.Error("expected nonce claim")
	}
	if claims["query_hash_alg"] != "SHA512" {
		t.Errorf("expected query_hash_alg=SHA512, got %v", claims["query_hash_alg"])
	}

	hash := sha512.Sum512([]byte(params.Encode()))
	if claims["query_hash"] != hex.EncodeToString(hash[:]) {
		t.Error("query_hash does not match the encoded query string")
	}
}

func TestAuthTokenOmitsQueryHashWithoutParams(t *testing.T) {
	client := newTestClient("http://example.invalid")

	signed, err := client.authToken(nil)
	if err != nil {
		t.Fatalf("authToken failed: %v", err)
	}

	token, _ := jwt.Parse(signed, func(t *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	claims := token.Claims.(jwt.MapClaims)
	if _, ok := claims["query_hash"]; ok {
		t.Error("query_hash should be omitted for requests without parameters")
	}
}

func TestAPIErrorSurfacesName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"name":"invalid_access_key","message":"bad key"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetAccounts(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid_access_key") {
		t.Errorf("error should include the API error name: %v", err)
	}
}
