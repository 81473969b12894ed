package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
	redisstore "github.com/xenking/storefront/internal/storage/redis"
)

// --- Helpers ---

type testEnv struct {
	server *httptest.Server
	store  *memory.Store
	signer *auth.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Products().Put(product.Product{ID: "1", Name: "Waffle", Category: "Waffle", Price: decimal.RequireFromString("6.50"), Stock: 10}))
	require.NoError(t, store.Products().Put(product.Product{ID: "2", Name: "Creme Brulee", Category: "Dessert", Price: decimal.RequireFromString("7.00"), Stock: 2}))

	co, err := checkout.NewService(store, store.Orders(), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	signer, err := auth.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)

	h := NewHandler(Deps{
		Products:  store.Products(),
		Coupons:   store.Coupons(),
		Previewer: coupon.NewPreviewer(store.Coupons()),
		Checkout:  co,
		Orders:    lifecycle.NewService(store, store.Orders()),
		Carts:     cart.NewService(redisstore.NewCartStore(client, time.Hour), store.Products(), co),
		Tokens:    signer,
	})
	root := chi.NewRouter()
	root.Mount("/api", h.Routes())
	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: store, signer: signer}
}

func (e *testEnv) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	tok, err := e.signer.Sign(auth.Identity{Subject: subject, Role: role})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	status, raw := e.doRaw(t, method, path, token, body)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return status, out
}

func (e *testEnv) doRaw(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, []byte(buf.String())
}

func (e *testEnv) createCoupon(t *testing.T, c coupon.Coupon) {
	t.Helper()
	c.IsActive = true
	if c.ApplicableCategories == nil {
		c.ApplicableCategories = []string{}
	}
	require.NoError(t, e.store.Coupons().Create(context.Background(), &c))
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.store.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// --- Tests ---

func TestProducts(t *testing.T) {
	env := newTestEnv(t)

	status, raw := env.doRaw(t, http.MethodGet, "/api/product", "", "")
	require.Equal(t, http.StatusOK, status)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0]["id"])
	assert.Equal(t, 6.5, list[0]["price"])

	status, body := env.do(t, http.MethodGet, "/api/product/2", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Creme Brulee", body["name"])

	status, body = env.do(t, http.MethodGet, "/api/product/404", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.EqualValues(t, 404, body["code"])
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)
	user := env.token(t, "alice", auth.RoleUser)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{name: "MissingToken", method: http.MethodGet, path: "/api/order", want: http.StatusUnauthorized},
		{name: "GarbageToken", method: http.MethodGet, path: "/api/order", token: "not-a-jwt", want: http.StatusUnauthorized},
		{name: "UserOnAdminRoute", method: http.MethodGet, path: "/api/coupon", token: user, want: http.StatusForbidden},
		{name: "UserSetsStock", method: http.MethodPut, path: "/api/product/1/stock", token: user, body: `{"stock":1}`, want: http.StatusForbidden},
		{name: "UserListsOwnOrders", method: http.MethodGet, path: "/api/order", token: user, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.doRaw(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestPlaceOrder(t *testing.T) {
	env := newTestEnv(t)
	env.createCoupon(t, coupon.Coupon{
		Code:          "HAPPYHOURS",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(18),
		MinPurchase:   decimal.Zero,
	})
	user := env.token(t, "alice", auth.RoleUser)

	status, body := env.do(t, http.MethodPost, "/api/order", user,
		`{"items":[{"productId":"1","quantity":2},{"productId":"2","quantity":1}],"couponCode":"happyhours"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "alice", body["userId"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "HAPPYHOURS", body["couponCode"])
	assert.Equal(t, 3.6, body["discount"])
	assert.Equal(t, 16.4, body["total"])
	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "1", first["productId"])
	assert.Equal(t, 6.5, first["price"])
	assert.NotNil(t, first["product"])

	assert.Equal(t, 8, env.stock(t, "1"))
	assert.Equal(t, 1, env.stock(t, "2"))
}

func TestPlaceOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.createCoupon(t, coupon.Coupon{
		Code:          "BIGSPEND",
		DiscountType:  coupon.DiscountFixed,
		DiscountValue: decimal.NewFromInt(5),
		MinPurchase:   decimal.NewFromInt(100),
	})
	user := env.token(t, "alice", auth.RoleUser)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "InsufficientStock",
			body:       `{"items":[{"productId":"2","quantity":3}]}`,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "2", body["productId"])
				assert.EqualValues(t, 2, body["available"])
			},
		},
		{
			name:       "UnknownProduct",
			body:       `{"items":[{"productId":"99","quantity":1}]}`,
			wantStatus: http.StatusNotFound,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "99", body["productId"])
			},
		},
		{
			name:       "EmptyItems",
			body:       `{"items":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "ZeroQuantity",
			body:       `{"items":[{"productId":"1","quantity":0}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "CouponBelowMinimum",
			body:       `{"items":[{"productId":"1","quantity":1}],"couponCode":"BIGSPEND"}`,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, string(coupon.ReasonBelowMinimum), body["reason"])
				assert.EqualValues(t, 100, body["minPurchase"])
			},
		},
		{
			name:       "UnknownCoupon",
			body:       `{"items":[{"productId":"1","quantity":1}],"couponCode":"NOPE"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "MalformedJSON",
			body:       `{"items":[`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/order", user, tt.body)
			require.Equal(t, tt.wantStatus, status, body)
			assert.EqualValues(t, tt.wantStatus, body["code"])
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}

	assert.Equal(t, 10, env.stock(t, "1"), "failed checkouts leave stock untouched")
	assert.Equal(t, 2, env.stock(t, "2"))
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice", auth.RoleUser)
	bob := env.token(t, "bob", auth.RoleUser)
	admin := env.token(t, "root", auth.RoleAdmin)

	status, placed := env.do(t, http.MethodPost, "/api/order", alice, `{"items":[{"productId":"1","quantity":3}]}`)
	require.Equal(t, http.StatusCreated, status)
	id := placed["id"].(string)

	status, _ = env.do(t, http.MethodGet, "/api/order/"+id, bob, "")
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(t, http.MethodGet, "/api/order/"+id, admin, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodGet, "/api/order/unknown", alice, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodPatch, "/api/order/"+id+"/status", admin, `{"status":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, body := env.do(t, http.MethodPatch, "/api/order/"+id+"/status", admin, `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processing", body["status"])

	status, _ = env.do(t, http.MethodDelete, "/api/order/"+id, bob, "")
	assert.Equal(t, http.StatusForbidden, status)
	status, body = env.do(t, http.MethodDelete, "/api/order/"+id, alice, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, 10, env.stock(t, "1"))

	status, _ = env.do(t, http.MethodDelete, "/api/order/"+id, alice, "")
	assert.Equal(t, http.StatusConflict, status)

	status, raw := env.doRaw(t, http.MethodGet, "/api/order?status=cancelled", alice, "")
	require.Equal(t, http.StatusOK, status)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])

	status, _ = env.do(t, http.MethodGet, "/api/order?userId=bob", alice, "")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestPreviewCoupon(t *testing.T) {
	env := newTestEnv(t)
	env.createCoupon(t, coupon.Coupon{
		Code:          "SAVE50",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(50),
		MaxDiscount:   decimal.NewNullDecimal(decimal.NewFromInt(20)),
		MinPurchase:   decimal.NewFromInt(10),
	})
	user := env.token(t, "alice", auth.RoleUser)

	status, body := env.do(t, http.MethodPost, "/api/coupon/validate", user, `{"code":"save50","amount":1000}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["valid"])
	assert.EqualValues(t, 20, body["discount"])
	assert.EqualValues(t, 980, body["finalAmount"])

	status, body = env.do(t, http.MethodPost, "/api/coupon/validate", user, `{"code":"SAVE50","amount":"9.99"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, string(coupon.ReasonBelowMinimum), body["reason"])
	assert.EqualValues(t, 10, body["minPurchase"])

	status, _ = env.do(t, http.MethodPost, "/api/coupon/validate", user, `{"code":"MISSING","amount":10}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(t, http.MethodPost, "/api/coupon/validate", user, `{"code":"SAVE50"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCouponAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "root", auth.RoleAdmin)

	status, body := env.do(t, http.MethodPost, "/api/coupon", admin,
		`{"code":"welcome10","discountType":"fixed","discountValue":10,"usageLimit":100,"applicableCategories":["Waffle"]}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "WELCOME10", body["code"])
	assert.Equal(t, true, body["isActive"])
	assert.Nil(t, body["maxDiscount"])
	id := int64(body["id"].(float64))
	path := "/api/coupon/" + strconv.FormatInt(id, 10)

	status, _ = env.do(t, http.MethodPost, "/api/coupon", admin, `{"code":"WELCOME10","discountType":"fixed","discountValue":1}`)
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodPost, "/api/coupon", admin, `{"code":"X","discountType":"fixed","discountValue":1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "code", body["field"])

	status, body = env.do(t, http.MethodPut, path, admin,
		`{"code":"WELCOME10","discountType":"percentage","discountValue":15,"maxDiscount":"25.00","isActive":false}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "percentage", body["discountType"])
	assert.EqualValues(t, 25, body["maxDiscount"])
	assert.Equal(t, false, body["isActive"])

	status, raw := env.doRaw(t, http.MethodGet, "/api/coupon", admin, "")
	require.Equal(t, http.StatusOK, status)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list, 1)

	status, _ = env.doRaw(t, http.MethodDelete, path, admin, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = env.doRaw(t, http.MethodGet, path, admin, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.doRaw(t, http.MethodGet, "/api/coupon/abc", admin, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSetStock(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "root", auth.RoleAdmin)

	status, body := env.do(t, http.MethodPut, "/api/product/1/stock", admin, `{"stock":42}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 42, body["stock"])

	status, _ = env.do(t, http.MethodPut, "/api/product/1/stock", admin, `{"stock":-1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPut, "/api/product/1/stock", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPut, "/api/product/nope/stock", admin, `{"stock":1}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCart(t *testing.T) {
	env := newTestEnv(t)
	user := env.token(t, "alice", auth.RoleUser)

	status, body := env.do(t, http.MethodPost, "/api/cart/items", user, `{"productId":"1","quantity":2}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 13, body["total"])

	status, body = env.do(t, http.MethodPost, "/api/cart/items", user, `{"productId":"2","quantity":3}`)
	require.Equal(t, http.StatusBadRequest, status)
	assert.EqualValues(t, 2, body["available"])

	status, body = env.do(t, http.MethodPut, "/api/cart/items/1", user, `{"quantity":4}`)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 26, body["total"])

	status, body = env.do(t, http.MethodPost, "/api/cart/checkout", user, "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 26, body["total"])
	assert.Equal(t, 6, env.stock(t, "1"))

	status, body = env.do(t, http.MethodGet, "/api/cart", user, "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])

	status, _ = env.do(t, http.MethodPost, "/api/cart/checkout", user, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouteFinder(t *testing.T) {
	root := chi.NewRouter()
	root.Mount("/api", (&Handler{}).Routes())
	find := RouteFinder(root)

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/product/42", "/api/product/{id}"},
		{http.MethodPatch, "/api/order/abc/status", "/api/order/{id}/status"},
		{http.MethodGet, "/nowhere", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, find(httptest.NewRequest(tt.method, tt.path, nil)), tt.path)
	}
}

func TestClassify_InternalIsOpaque(t *testing.T) {
	ae := classify(errors.Wrap(errors.New("pq: relation does not exist"), "load order"))
	assert.Equal(t, http.StatusInternalServerError, ae.status)
	assert.Equal(t, "internal error", ae.message)

	ae = classify(&coupon.RejectedError{Code: "X", Reason: coupon.ReasonExhausted})
	assert.Equal(t, http.StatusConflict, ae.status)
}
