package adminhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stratexec/internal/engine"
	"stratexec/internal/events"
	"stratexec/internal/market"
	"stratexec/internal/store/history"
	"stratexec/internal/store/journal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	reg    *engine.Registry
	prices *market.PriceBook
	h      http.Handler
}

type stubJournal struct{ last journal.Query }

func (s *stubJournal) List(_ context.Context, q journal.Query) ([]journal.Record, error) {
	s.last = q
	return []journal.Record{{ID: 1, EngineID: q.EngineID, Type: events.OrderCreated, Seq: 3}}, nil
}

type stubHistory struct{ since time.Time }

func (s *stubHistory) List(_ context.Context, engineID string, since time.Time, limit int) ([]history.Point, error) {
	s.since = since
	return []history.Point{{EngineID: engineID, PortfolioValue: decimal.NewFromInt(1)}}, nil
}

func newFixture(t *testing.T, mutate ...func(*ServerConfig)) *fixture {
	t.Helper()
	prices := market.NewPriceBook()
	reg := engine.NewRegistry(context.Background(), engine.Options{Prices: prices})
	t.Cleanup(reg.Close)
	cfg := ServerConfig{
		Registry:     reg,
		Prices:       prices,
		InitialValue: decimal.NewFromInt(100000),
		InitialCash:  decimal.NewFromInt(100000),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return &fixture{t: t, reg: reg, prices: prices, h: srv.Handler()}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) running(id string) {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/engines", `{"id":"`+id+`","start":true}`)
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
}

func TestNewServer_RequiresRegistry(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.Error(t, err)
}

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_OrderFillRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.running("main")
	require.NoError(t, f.prices.Set("BTC", decimal.NewFromInt(51000)))

	w := f.do(http.MethodPost, "/api/engines/main/orders",
		`{"strategy_id":"s1","symbol":"btc","side":"buy","type":"market","quantity":"1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	o := decode[engine.Order](t, w)
	assert.Equal(t, "BTC", o.Symbol)
	assert.Equal(t, engine.StatusPending, o.Status)

	w = f.do(http.MethodPost, "/api/engines/main/orders/"+o.ID+"/fills", `{"fill_price":"50000","qty":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/api/engines/main/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Portfolio engine.Portfolio `json:"portfolio"`
		RiskLevel string           `json:"risk_level"`
	}](t, w)
	assert.True(t, body.Portfolio.Cash.Equal(decimal.NewFromInt(50000)), body.Portfolio.Cash.String())
	assert.True(t, body.Portfolio.PortfolioValue.Equal(decimal.NewFromInt(101000)), body.Portfolio.PortfolioValue.String())

	w = f.do(http.MethodGet, "/api/engines/main/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	pos := decode[struct {
		Count int `json:"count"`
	}](t, w)
	assert.Equal(t, 1, pos.Count)

	w = f.do(http.MethodPost, "/api/engines/main/orders/"+o.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[engine.CancelResult](t, w).NoOp)
}

func TestServer_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/engines", `{"id":"idle"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"unknown engine", http.MethodGet, "/api/engines/nope/orders", "", http.StatusNotFound, engine.KindNotFound},
		{"schema rejects missing quantity", http.MethodPost, "/api/engines/idle/orders",
			`{"strategy_id":"s","symbol":"BTC","side":"buy","type":"market"}`, http.StatusBadRequest, engine.KindValidation},
		{"not running", http.MethodPost, "/api/engines/idle/orders",
			`{"strategy_id":"s","symbol":"BTC","side":"buy","type":"market","quantity":1}`, http.StatusConflict, engine.KindEngineNotRunning},
		{"duplicate engine", http.MethodPost, "/api/engines", `{"id":"idle"}`, http.StatusConflict, engine.KindInvalidState},
		{"unknown order", http.MethodGet, "/api/engines/idle/orders/missing", "", http.StatusNotFound, engine.KindNotFound},
		{"bad fill", http.MethodPost, "/api/engines/idle/fills", `{"order_id":"x","price":"abc","quantity":1}`, http.StatusBadRequest, engine.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			body := decode[map[string]any](t, w)
			assert.Equal(t, tc.kind, body["kind"])
		})
	}
}

func TestServer_ValidationAfterSchema(t *testing.T) {
	f := newFixture(t)
	f.running("main")
	w := f.do(http.MethodPost, "/api/engines/main/orders",
		`{"strategy_id":"s","symbol":"BTC","side":"buy","type":"limit","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "limit without price")

	w = f.do(http.MethodGet, "/api/engines/main/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[struct {
		Count int `json:"count"`
	}](t, w).Count, "rejected requests create no order")
}

func TestServer_ExecuteStrategyPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.running("main")
	require.NoError(t, f.prices.Set("ETH", decimal.NewFromInt(2000)))

	w := f.do(http.MethodPost, "/api/engines/main/strategies/trend/execute", `{
		"signals": [
			{"symbol": "ETH", "action": "buy", "quantity": 1},
			{"symbol": "ETH", "action": "buy", "quantity": "-1"},
			{"symbol": "ETH", "action": "hold"}
		],
		"metadata": {"run": 7}
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Results   []engine.SignalResult `json:"results"`
		Succeeded int                   `json:"succeeded"`
		Failed    int                   `json:"failed"`
	}](t, w)
	require.Len(t, body.Results, 3)
	assert.Equal(t, 2, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
	assert.Equal(t, engine.KindValidation, body.Results[1].Kind)

	w = f.do(http.MethodPost, "/api/engines/main/strategies/trend/execute", `{"signals": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_EngineLifecycle(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/engines", `{"id":"e1"}`).Code)

	w := f.do(http.MethodPost, "/api/engines/e1/start", `{"initial_value":"5000"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[engine.Snapshot](t, w)
	assert.Equal(t, engine.StateRunning, snap.State)
	assert.True(t, snap.Portfolio.Cash.Equal(decimal.NewFromInt(5000)))

	w = f.do(http.MethodPost, "/api/engines/e1/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, engine.StateStopped, decode[engine.Snapshot](t, w).State)

	for _, path := range []string{"statistics", "health"} {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/engines/e1/"+path, "").Code, path)
	}

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/engines/e1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/engines/e1", "").Code)
}

func TestServer_ClosePosition(t *testing.T) {
	f := newFixture(t)
	f.running("main")
	eng, err := f.reg.Get("main")
	require.NoError(t, err)
	o, err := eng.SubmitOrder(engine.OrderRequest{StrategyID: "s", Symbol: "BTC", Side: engine.SideBuy, Type: engine.OrderTypeMarket, Quantity: decimal.NewFromInt(4)})
	require.NoError(t, err)
	_, err = eng.ResolveFill(o.ID, decimal.NewFromInt(10), decimal.NewFromInt(4))
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/engines/main/positions/close", `{"strategy_id":"s","symbol":"BTC","percentage":25}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	closeOrder := decode[engine.Order](t, w)
	assert.Equal(t, engine.SideSell, closeOrder.Side)
	assert.True(t, closeOrder.Quantity.Equal(decimal.NewFromInt(1)))

	w = f.do(http.MethodPost, "/api/engines/main/positions/close", `{"strategy_id":"s"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_AsyncFills(t *testing.T) {
	f := newFixture(t)
	f.running("main")
	eng, err := f.reg.Get("main")
	require.NoError(t, err)
	o, err := eng.SubmitOrder(engine.OrderRequest{StrategyID: "s", Symbol: "BTC", Side: engine.SideBuy, Type: engine.OrderTypeMarket, Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/engines/main/fills?async=true", `{"fills":[{"orderId":"`+o.ID+`","price":10,"quantity":1}]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(t, func() bool {
		got, err := eng.Order(o.ID)
		return err == nil && got.Status == engine.StatusFilled
	}, time.Second, 5*time.Millisecond)
}

func TestServer_Prices(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPut, "/api/prices", `{"prices":{"btc":"50000","eth":3000}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	px, ok := f.prices.Price("BTC")
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.NewFromInt(50000)))

	w = f.do(http.MethodPut, "/api/prices", `{"prices":{"btc":"0"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusOK, w.Code)
	quotes := decode[struct {
		Quotes []market.Quote `json:"quotes"`
	}](t, w)
	assert.Len(t, quotes.Quotes, 2)
}

func TestServer_EventsAndHistory(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/engines", `{"id":"main"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/engines/main/events", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/engines/main/history", "").Code)

	j := &stubJournal{}
	h := &stubHistory{}
	f2 := newFixture(t, func(c *ServerConfig) {
		c.Journal = j
		c.History = h
	})
	require.Equal(t, http.StatusCreated, f2.do(http.MethodPost, "/api/engines", `{"id":"main"}`).Code)

	w := f2.do(http.MethodGet, "/api/engines/main/events?type=order:created&after_seq=2&limit=5000", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "main", j.last.EngineID)
	assert.Equal(t, []events.Type{events.OrderCreated}, j.last.Types)
	assert.EqualValues(t, 2, j.last.AfterSeq)
	assert.Equal(t, 1000, j.last.Limit)

	assert.Equal(t, http.StatusBadRequest, f2.do(http.MethodGet, "/api/engines/main/events?after_seq=x", "").Code)

	w = f2.do(http.MethodGet, "/api/engines/main/history?window=1h", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), h.since, time.Minute)
	assert.Equal(t, http.StatusBadRequest, f2.do(http.MethodGet, "/api/engines/main/history?window=soon", "").Code)
}

func TestParseFills(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		orderID string
		want    []engine.Fill
		wantErr bool
	}{
		{"plain", `{"order_id":"a","price":"1.5","quantity":2}`, "", []engine.Fill{{OrderID: "a", Price: decimal.RequireFromString("1.5"), Quantity: decimal.NewFromInt(2)}}, false},
		{"path id", `{"fill_price":3,"qty":"1"}`, "p", []engine.Fill{{OrderID: "p", Price: decimal.NewFromInt(3), Quantity: decimal.NewFromInt(1)}}, false},
		{"array", `[{"id":"a","price":1,"quantity":1},{"id":"b","avg_price":2,"filled_qty":3}]`, "", []engine.Fill{
			{OrderID: "a", Price: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1)},
			{OrderID: "b", Price: decimal.NewFromInt(2), Quantity: decimal.NewFromInt(3)},
		}, false},
		{"missing id", `{"price":1,"quantity":1}`, "", nil, true},
		{"missing price", `{"order_id":"a","quantity":1}`, "", nil, true},
		{"bool price", `{"order_id":"a","price":true,"quantity":1}`, "", nil, true},
		{"invalid json", `{"order_id":`, "", nil, true},
		{"empty", ` `, "", nil, true},
		{"empty array", `[]`, "", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseFills([]byte(tc.body), tc.orderID)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.Equal(t, tc.want[i].OrderID, got[i].OrderID)
				assert.True(t, tc.want[i].Price.Equal(got[i].Price))
				assert.True(t, tc.want[i].Quantity.Equal(got[i].Quantity))
			}
		})
	}
}
