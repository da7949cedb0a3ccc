package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/matching"
	"github.com/hftsim/matchbox/risk"
	"github.com/hftsim/matchbox/session"
)

func TestMain(m *testing.M) {
	config.NewLoggerService()
	os.Exit(m.Run())
}

type testRig struct {
	app      *fiber.App
	engine   *matching.Engine
	sessions *session.Manager
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	engine := matching.NewEngine("TEST")
	limits := risk.Limits{
		MaxPosition:       1_000_000,
		MaxOrderQty:       100_000,
		MaxOrderValue:     1_000_000_000_000,
		DailyLossLimit:    1_000_000_000,
		MaxPriceDeviation: decimal.NewFromInt(1),
		MaxOrdersPerSec:   1_000_000,
		MaxDailyVolume:    1_000_000_000,
	}
	for owner := uint32(1); owner <= 10; owner++ {
		require.NoError(t, engine.Risk().SetTraderLimits(owner, limits))
	}

	sessions := session.NewManager()
	srv := New(engine, sessions)
	return &testRig{app: srv.SetupRouter(), engine: engine, sessions: sessions}
}

func (r *testRig) do(t *testing.T, method, path string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

// openSession registers a user, opens a session and logs it in.
func (r *testRig) openSession(t *testing.T, username string) uint32 {
	t.Helper()

	resp, _ := r.do(t, "POST", "/users", map[string]interface{}{
		"username": username, "password": "pw", "email": username + "@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := r.do(t, "POST", "/sessions", map[string]interface{}{
		"username": username, "client_ip": "10.1.1.1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := uint32(body["session_id"].(float64))

	resp, _ = r.do(t, "POST", fmt.Sprintf("/sessions/%d/login", id), map[string]interface{}{
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return id
}

func TestOrderFlowOverHTTP(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.openSession(t, "alice")

	resp, body := rig.do(t, "POST", "/orders", map[string]interface{}{
		"id": 1, "side": "BUY", "type": "GTC", "price": 100, "quantity": 10,
		"owner_id": 1, "session_id": sid,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["trades"])

	resp, body = rig.do(t, "POST", "/orders", map[string]interface{}{
		"id": 2, "side": "SELL", "type": "GTC", "price": 100, "quantity": 4,
		"owner_id": 2, "session_id": sid,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trades := body["trades"].([]interface{})
	require.Len(t, trades, 1)

	require.EqualValues(t, 100, rig.engine.BestBid())
}

func TestOrderRequiresAuthenticatedSession(t *testing.T) {
	rig := newTestRig(t)

	resp, _ := rig.do(t, "POST", "/orders", map[string]interface{}{
		"id": 1, "side": "BUY", "type": "GTC", "price": 100, "quantity": 10,
		"owner_id": 1, "session_id": 999,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 0, rig.engine.Stats().TotalOrders)
}

func TestRiskRejectionSurfacesAs422(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.openSession(t, "alice")

	// owner 99 has no limits configured
	resp, _ := rig.do(t, "POST", "/orders", map[string]interface{}{
		"id": 1, "side": "BUY", "type": "GTC", "price": 100, "quantity": 10,
		"owner_id": 99, "session_id": sid,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCancelOverHTTP(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.openSession(t, "alice")

	resp, _ := rig.do(t, "POST", "/orders", map[string]interface{}{
		"id": 1, "side": "BUY", "type": "GTC", "price": 100, "quantity": 10,
		"owner_id": 1, "session_id": sid,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = rig.do(t, "DELETE", fmt.Sprintf("/orders/1?session_id=%d", sid), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = rig.do(t, "DELETE", fmt.Sprintf("/orders/1?session_id=%d", sid), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDepthAndStatsEndpoints(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.openSession(t, "alice")

	for i, price := range []int64{100, 99, 101} {
		side := "BUY"
		if price > 100 {
			side = "SELL"
		}
		resp, _ := rig.do(t, "POST", "/orders", map[string]interface{}{
			"id": i + 1, "side": side, "type": "GTC", "price": price, "quantity": 10,
			"owner_id": i + 1, "session_id": sid,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := rig.do(t, "GET", "/depth?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["bids"].([]interface{}), 2)
	require.Len(t, body["asks"].([]interface{}), 1)

	resp, body = rig.do(t, "GET", "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 100, body["best_bid"].(float64))
	require.EqualValues(t, 101, body["best_ask"].(float64))
	require.EqualValues(t, 3, body["open_orders"].(float64))
}

func TestPositionEndpoint(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.openSession(t, "alice")

	for _, o := range []map[string]interface{}{
		{"id": 1, "side": "BUY", "type": "GTC", "price": 100, "quantity": 10, "owner_id": 1, "session_id": sid},
		{"id": 2, "side": "SELL", "type": "GTC", "price": 100, "quantity": 10, "owner_id": 2, "session_id": sid},
	} {
		resp, _ := rig.do(t, "POST", "/orders", o)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := rig.do(t, "GET", "/positions/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 10, body["quantity"].(float64))
	require.EqualValues(t, 100, body["avg_price"].(float64))
}

func TestSessionEndpoints(t *testing.T) {
	rig := newTestRig(t)

	resp, _ := rig.do(t, "POST", "/users", map[string]interface{}{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = rig.do(t, "POST", "/users", map[string]interface{}{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := rig.do(t, "POST", "/sessions", map[string]interface{}{"username": "bob", "client_ip": "10.2.2.2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := uint32(body["session_id"].(float64))
	require.NotEmpty(t, body["token"])

	resp, _ = rig.do(t, "POST", fmt.Sprintf("/sessions/%d/login", id), map[string]interface{}{"password": "nope"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = rig.do(t, "POST", fmt.Sprintf("/sessions/%d/login", id), map[string]interface{}{"password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = rig.do(t, "POST", fmt.Sprintf("/sessions/%d/heartbeat", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = rig.do(t, "DELETE", fmt.Sprintf("/sessions/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = rig.do(t, "DELETE", fmt.Sprintf("/sessions/%d", id), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopOrderOverHTTP(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.openSession(t, "alice")

	resp, body := rig.do(t, "POST", "/orders", map[string]interface{}{
		"id": 1, "side": "SELL", "type": "STOP_LOSS", "price": 95, "stop_price": 95,
		"quantity": 5, "owner_id": 1, "session_id": sid,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["trades"])
	require.EqualValues(t, 1, rig.engine.PendingStops())

	resp, body = rig.do(t, "GET", "/orders/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "STOP_LOSS", body["type"].(string))
}
