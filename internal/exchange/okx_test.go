package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestOKXClient(t *testing.T, handler http.HandlerFunc) *OKXClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOKXClient(OKXConfig{
		BaseURL:     srv.URL,
		Credentials: Credentials{APIKey: "key", SecretKey: "secret", Passphrase: "pass"},
	})
}

func TestGetTickerParsesLastPrice(t *testing.T) {
	client := newTestOKXClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/market/ticker" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "0",
			"msg":  "",
			"data": []map[string]string{{"last": "60123.45", "bidPx": "60123.00", "askPx": "60124.00"}},
		})
	})

	ticker, err := client.GetTicker(context.Background(), "BTC-USDT-SWAP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticker.Last != 60123.45 {
		t.Fatalf("last = %v, want 60123.45", ticker.Last)
	}
	if ticker.Bid != 60123.00 || ticker.Ask != 60124.00 {
		t.Fatalf("bid/ask = %v/%v, want 60123.00/60124.00", ticker.Bid, ticker.Ask)
	}
}

func TestGetKlinesOrdersOldestFirstAndMarksClosed(t *testing.T) {
	client := newTestOKXClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "0",
			"data": [][]string{
				{"1700000120000", "101", "102", "100", "101.5", "10", "1000", "1000", "0"},
				{"1700000060000", "100", "101", "99", "100.5", "10", "1000", "1000", "1"},
			},
		})
	})

	candles, err := client.GetKlines(context.Background(), "BTC-USDT-SWAP", "1m", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatal("expected candles ordered oldest-first")
	}
	if !candles[0].Closed || candles[1].Closed {
		t.Fatalf("expected first candle closed and second still forming, got %v %v", candles[0].Closed, candles[1].Closed)
	}
}

func TestDoReturnsClassifiedErrorOnNonZeroCode(t *testing.T) {
	client := newTestOKXClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "51008",
			"msg":  "insufficient margin",
			"data": []interface{}{},
		})
	})

	_, err := client.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	exErr, ok := AsExchangeError(err)
	if !ok {
		t.Fatalf("expected *exchange.Error, got %T", err)
	}
	if exErr.Kind != KindInsufficientMargin {
		t.Fatalf("kind = %v, want %v", exErr.Kind, KindInsufficientMargin)
	}
}

func TestPlaceOrderFollowsUpWithGetOrder(t *testing.T) {
	calls := 0
	client := newTestOKXClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/api/v5/trade/order":
			if r.Method == http.MethodPost {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"code": "0",
					"data": []map[string]string{{"ordId": "42", "sCode": "0", "sMsg": ""}},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": "0",
				"data": []map[string]string{{"ordId": "42", "state": "filled", "avgPx": "60000", "accFillSz": "1"}},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := client.PlaceOrder(context.Background(), OrderParams{Symbol: "BTC-USDT-SWAP", Side: OrderBuy, Type: OrderMarket, Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != OrderStatusFilled || result.FillPrice != 60000 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (place + get), got %d", calls)
	}
}
