package orders

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

const createBody = `{
	"address": {"line1": "1 Market Street", "city": "Springfield", "state": "IL", "country": "US", "postalCode": "62701"},
	"products": [
		{"productId": "p1", "quantity": 1, "unitPrice": "0.01"},
		{"productId": "p2", "quantity": 2}
	],
	"paymentMethod": "UPI"
}`

func newTestServer(t *testing.T, f *fixture, idem *IdempotencyStore) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	handler := NewHandler(f.service, idem, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler.Register(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestHandler_Create(t *testing.T) {
	t.Run("created order uses catalog prices", func(t *testing.T) {
		f := newFixture(t)
		server := newTestServer(t, f, nil)

		resp, body := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		assert.NotEmpty(t, body["id"])
		assert.Equal(t, "20.00", body["totalAmount"])
		assert.Equal(t, "CONFIRMED", body["status"])
		assert.Equal(t, "PENDING", body["paymentStatus"])
		assert.Equal(t, "UPI", body["paymentMethod"])

		products := body["products"].([]any)
		require.Len(t, products, 2)
		first := products[0].(map[string]any)
		assert.Equal(t, "10.00", first["unitPrice"])
		assert.Equal(t, "10.00", first["lineTotal"])
		second := products[1].(map[string]any)
		assert.Equal(t, "10.00", second["lineTotal"])
	})

	t.Run("duplicate product is a bad request", func(t *testing.T) {
		f := newFixture(t)
		server := newTestServer(t, f, nil)

		body := strings.Replace(createBody, `"productId": "p2"`, `"productId": "p1"`, 1)
		resp, decoded := do(t, http.MethodPost, server.URL+"/v1/orders", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decoded["error"], "duplicate")
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)
		server := newTestServer(t, f, nil)

		resp, _ := do(t, http.MethodPost, server.URL+"/v1/orders", `{"products":`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unavailable product is a bad gateway", func(t *testing.T) {
		f := newFixture(t)
		server := newTestServer(t, f, nil)

		body := strings.Replace(createBody, `"productId": "p2"`, `"productId": "p3"`, 1)
		resp, _ := do(t, http.MethodPost, server.URL+"/v1/orders", body, nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("reservation failure reports the committed order", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.reduceStatus = domain.InventoryReduceFailed
		server := newTestServer(t, f, nil)

		resp, decoded := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, true, decoded["committed"])
		assert.NotEmpty(t, decoded["order_id"])
		assert.Equal(t, 1, f.store.count())
	})

	t.Run("publish failure is a server error with the order id", func(t *testing.T) {
		f := newFixture(t)
		f.publisher.failOn = domain.ChannelOrderStatus
		server := newTestServer(t, f, nil)

		resp, decoded := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, true, decoded["committed"])
		assert.Contains(t, decoded["error"], "order-status")
	})
}

func TestHandler_IdempotentCreate(t *testing.T) {
	newStore := func(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewIdempotencyStore(client, time.Hour, time.Minute), mr
	}
	key := http.Header{HeaderIdempotencyKey: []string{"req-1"}}

	t.Run("replay returns the first order without side effects", func(t *testing.T) {
		f := newFixture(t)
		idem, _ := newStore(t)
		server := newTestServer(t, f, idem)

		resp, first := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		published := len(f.publisher.onChannel(domain.ChannelAnalytics))

		f.publisher.setFailOn(domain.ChannelAnalytics)
		resp, second := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, first["id"], second["id"])
		assert.Equal(t, 1, f.store.count())
		assert.Len(t, f.publisher.onChannel(domain.ChannelAnalytics), published)
	})

	t.Run("request in flight is a conflict", func(t *testing.T) {
		f := newFixture(t)
		idem, _ := newStore(t)
		server := newTestServer(t, f, idem)

		var req domain.CreateOrderRequest
		require.NoError(t, json.Unmarshal([]byte(createBody), &req))
		fingerprint, err := Fingerprint(req)
		require.NoError(t, err)
		_, err = idem.Begin(context.Background(), "req-1", fingerprint)
		require.NoError(t, err)

		resp, _ := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Zero(t, f.store.count())
	})

	t.Run("key reused with another body", func(t *testing.T) {
		f := newFixture(t)
		idem, _ := newStore(t)
		server := newTestServer(t, f, idem)

		resp, _ := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		changed := strings.Replace(createBody, `"quantity": 2`, `"quantity": 9`, 1)
		resp, decoded := do(t, http.MethodPost, server.URL+"/v1/orders", changed, key)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, decoded["error"], "different request")
		assert.Equal(t, 1, f.store.count())
	})

	t.Run("failure before commit releases the key", func(t *testing.T) {
		f := newFixture(t)
		idem, mr := newStore(t)
		server := newTestServer(t, f, idem)

		body := strings.Replace(createBody, `"productId": "p2"`, `"productId": "p3"`, 1)
		resp, _ := do(t, http.MethodPost, server.URL+"/v1/orders", body, key)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.False(t, mr.Exists(idempotencyPrefix+"req-1"))

		resp, _ = do(t, http.MethodPost, server.URL+"/v1/orders", body, key)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("failure after commit is replayed as it was reported", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.reduceStatus = domain.InventoryReduceFailed
		idem, _ := newStore(t)
		server := newTestServer(t, f, idem)

		resp, failed := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Equal(t, true, failed["committed"])

		resp, replay := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, failed, replay)
		assert.Equal(t, 1, f.store.count())

		f.catalog.mu.Lock()
		defer f.catalog.mu.Unlock()
		assert.Equal(t, 1, f.catalog.reduceCalls)
	})

	t.Run("publish failure after commit is replayed as it was reported", func(t *testing.T) {
		f := newFixture(t)
		f.publisher.failOn = domain.ChannelOrderStatus
		idem, _ := newStore(t)
		server := newTestServer(t, f, idem)

		resp, failed := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		f.publisher.setFailOn("")
		resp, replay := do(t, http.MethodPost, server.URL+"/v1/orders", createBody, key)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, failed["order_id"], replay["order_id"])
		assert.Equal(t, true, replay["committed"])
	})
}

func TestHandler_GetAndList(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f, nil)
	order := f.createOrder(t)

	resp, body := do(t, http.MethodGet, server.URL+"/v1/orders/"+order.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, order.ID, body["id"])
	assert.Equal(t, "Springfield", body["address"].(map[string]any)["city"])

	resp, _ = do(t, http.MethodGet, server.URL+"/v1/orders/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	list := func(query string) (int, []map[string]any) {
		resp, err := http.Get(server.URL + "/v1/orders" + query)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var out []map[string]any
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		}
		return resp.StatusCode, out
	}

	code, orders := list("")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, orders, 1)

	code, orders = list("?status=shipped")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, orders)

	code, orders = list("?paymentStatus=PENDING")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, orders, 1)

	code, _ = list("?status=LOST")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = list("?status=CONFIRMED&paymentStatus=PENDING")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f, nil)
	order := f.createOrder(t)
	base := server.URL + "/v1/orders/" + order.ID

	resp, body := do(t, http.MethodPatch, base+"/status?status=shipped", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SHIPPED", body["status"])
	assert.EqualValues(t, 2, body["version"])

	resp, body = do(t, http.MethodPatch, base+"/status", `{"status":"RECEIVED"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RECEIVED", body["status"])

	resp, body = do(t, http.MethodPatch, base+"/status?status=SHIPPED", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "RECEIVED")

	resp, _ = do(t, http.MethodPatch, base+"/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPatch, base+"/status?status=LOST", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPatch, server.URL+"/v1/orders/unknown/status?status=SHIPPED", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_UpdatePaymentStatus(t *testing.T) {
	f := newFixture(t)
	server := newTestServer(t, f, nil)
	order := f.createOrder(t)
	base := server.URL + "/v1/orders/" + order.ID

	resp, body := do(t, http.MethodPatch, base+"/payment-status?paymentStatus=AUTHORIZED", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "PENDING")
	assert.Contains(t, body["error"], "AUTHORIZED")

	resp, body = do(t, http.MethodPatch, base+"/payment-status", `{"paymentStatus":"initiated"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "INITIATED", body["paymentStatus"])
}
