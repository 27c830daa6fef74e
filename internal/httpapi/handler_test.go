package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
	"github.com/unkn0wn-root/opscache/datastore/memory"
	"github.com/unkn0wn-root/opscache/internal/fleet"
)

type testServer struct {
	router *gin.Engine
	data   *memory.Store
	store  *opscache.Store
}

func newTestServer(t *testing.T, checks map[string]Check) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := opscache.New(opscache.Options{Namespace: "http-test"})
	require.NoError(t, err)
	data := memory.New()
	data.Seed(fleet.EntityDrivers,
		datastore.Record{"id": "d2", "full_name": "Zoe Park", "status": "active"},
		datastore.Record{"id": "d1", "full_name": "Adam Reyes", "status": "active"},
	)
	svc, err := fleet.New(fleet.Config{Store: store, Data: data})
	require.NoError(t, err)

	r := NewRouter(NewHandler(svc), RouterConfig{Registry: prometheus.NewRegistry(), Checks: checks})
	return testServer{router: r, data: data, store: store}
}

func (s testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v))
	return v
}

type driversBody struct {
	Data      []fleet.Driver `json:"data"`
	RequestID string         `json:"request_id"`
}

func TestListDrivers(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/drivers", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[driversBody](t, w)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "Adam Reyes", body.Data[0].FullName)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, body.RequestID, w.Header().Get(RequestIDHeader))

	s.data.Seed(fleet.EntityDrivers, datastore.Record{"id": "d3", "full_name": "Mia Chen"})
	body = decode[driversBody](t, s.do(t, http.MethodGet, "/api/drivers", ""))
	assert.Len(t, body.Data, 2, "cached")

	body = decode[driversBody](t, s.do(t, http.MethodGet, "/api/drivers?force=true", ""))
	assert.Len(t, body.Data, 1)

	live := decode[driversBody](t, s.do(t, http.MethodGet, "/api/drivers/live", ""))
	assert.Equal(t, body.Data, live.Data)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/cache/ttl", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestDriverPerformanceValidation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/drivers/d1/performance?start=2024-02-01&end=2024-01-01", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, ErrCodeInvalidRequest, body.Error)

	w = s.do(t, http.MethodGet, "/api/drivers/d1/performance?start=2024-01-01&end=2024-01-31", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDashboardEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	now := time.Now().UTC()
	s.data.Seed(fleet.EntityDailyOrderMetrics,
		datastore.Record{"id": 1, "date": now.AddDate(0, 0, -1).Format("2006-01-02"), "total_orders": 90},
		datastore.Record{"id": 2, "date": now.AddDate(0, 0, -60).Format("2006-01-02"), "total_orders": 70},
	)
	s.data.Seed(fleet.EntityMonthlyOrderMetrics,
		datastore.Record{"id": 1, "year": 2023, "month": "05", "total_orders": 2000},
	)

	tests := []struct {
		name string
		path string
		code int
		rows int
	}{
		{"daily default window", "/api/dashboard/daily-orders", http.StatusOK, 1},
		{"daily wide window", "/api/dashboard/daily-orders?days=90", http.StatusOK, 2},
		{"daily bad days", "/api/dashboard/daily-orders?days=-3", http.StatusBadRequest, 0},
		{"monthly by year", "/api/dashboard/monthly-orders?year=2023", http.StatusOK, 1},
		{"monthly bad year", "/api/dashboard/monthly-orders?year=twenty", http.StatusBadRequest, 0},
		{"profit and loss", "/api/dashboard/profit-loss?months=6", http.StatusOK, 0},
		{"performance range", "/api/dashboard/performance?start=2024-01-01&end=2024-01-31", http.StatusOK, 0},
		{"performance bad range", "/api/dashboard/performance?start=2024-02-01&end=2024-01-01", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			body := decode[struct {
				Data []map[string]any `json:"data"`
			}](t, w)
			assert.Len(t, body.Data, tt.rows)
		})
	}
}

func TestMonthlyStatementEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.data.Seed(fleet.EntityDriverPerformance,
		datastore.Record{"orders_id": 1, "driver_id": "d1", "date": "2024-01-02", "total_orders": 9},
		datastore.Record{"orders_id": 2, "driver_id": "d1", "date": "2024-01-03", "total_orders": 0},
	)

	w := s.do(t, http.MethodPost, "/api/drivers/d1/statements", `{"month":1,"year":2024}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Data fleet.MonthlyStatement `json:"data"`
	}](t, w)
	assert.Equal(t, 2, created.Data.TotalDays)
	assert.Equal(t, 8.0, created.Data.TotalHours)

	w = s.do(t, http.MethodPost, "/api/drivers/d1/statements", `{"month":13,"year":2024}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/drivers/d1/statements", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Data []fleet.MonthlyStatement `json:"data"`
	}](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, created.Data.ID, list.Data[0].ID)
}

func TestUpdateDriverStatus(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid status", `{"status":"suspended"}`, http.StatusOK},
		{"unknown status", `{"status":"retired"}`, http.StatusBadRequest},
		{"missing status", `{}`, http.StatusBadRequest},
		{"malformed json", `{"status":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPatch, "/api/drivers/d1/status", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	for _, r := range s.data.Rows(fleet.EntityDrivers) {
		if r.String("id") == "d1" {
			assert.Equal(t, "suspended", r.String("status"))
		}
	}
}

func TestUpstreamErrorsAreMapped(t *testing.T) {
	s := newTestServer(t, nil)

	s.data.SetFault(func(op, entity string) error {
		return &datastore.Error{Code: "42501", Message: "permission denied for table drivers"}
	})
	w := s.do(t, http.MethodGet, "/api/drivers", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, ErrCodeUpstream, body.Error)
	assert.Equal(t, "42501", body.Code)

	s.data.SetFault(func(op, entity string) error {
		return errors.Join(datastore.ErrUnavailable, errors.New("circuit open"))
	})
	w = s.do(t, http.MethodGet, "/api/drivers?force=1", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeUnavailable, decode[ErrorResponse](t, w).Error)
}

func TestExecuteBatch(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/batch", `{"operations":[
		{"kind":"insert","entity":"drivers","payload":{"id":"d3","full_name":"Mia Chen"}},
		{"kind":"UPDATE","entity":"drivers","payload":{"status":"inactive"},"match":{"id":"d2"}}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Data batchResponse `json:"data"`
	}](t, w)
	assert.Equal(t, 2, body.Data.Applied)
	assert.Equal(t, []string{"drivers", "driver_attendance", "driver_daily_performance"}, body.Data.Invalidated)
	assert.NotEmpty(t, body.Data.ID)
	assert.Len(t, s.data.Rows(fleet.EntityDrivers), 3)
}

func TestExecuteBatchAbort(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/batch", `{"operations":[
		{"kind":"DELETE","entity":"drivers","match":{"id":"d2"}},
		{"kind":"DELETE","entity":"drivers"},
		{"kind":"INSERT","entity":"drivers","payload":{"id":"d9"}}
	]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, ErrCodeBatchAborted, body.Error)
	assert.Equal(t, 1.0, body.Details["index"])
	assert.Equal(t, 1.0, body.Details["applied"])
	assert.Equal(t, "match", body.Details["field"])
	assert.Len(t, s.data.Rows(fleet.EntityDrivers), 1)

	s.data.SetFault(func(op, entity string) error {
		if op == "insert" {
			return &datastore.Error{Code: "23505", Message: "duplicate key value"}
		}
		return nil
	})
	w = s.do(t, http.MethodPost, "/api/batch", `{"operations":[{"kind":"INSERT","entity":"drivers","payload":{"id":"d1"}}]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "23505", decode[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/batch", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/cache/ttl", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ttl":"5m0s"`)

	w = s.do(t, http.MethodPut, "/api/cache/ttl", `{"ttl":"90s"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 90*time.Second, s.store.TTL())

	w = s.do(t, http.MethodPut, "/api/cache/ttl", `{"ttl":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPut, "/api/cache/ttl", `{"ttl":"-1m"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/cache/ttl", `{"ttl":"0s"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ttl":"5m0s"`)
	assert.Equal(t, opscache.DefaultTTL, s.store.TTL(), "zero restores the default like a zero ttl at startup")

	s.do(t, http.MethodGet, "/api/drivers", "")
	s.data.Seed(fleet.EntityDrivers)
	w = s.do(t, http.MethodPost, "/api/cache/clear", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[driversBody](t, s.do(t, http.MethodGet, "/api/drivers", ""))
	assert.Empty(t, body.Data, "cleared cache refetches")
}

func TestAccountingAndAttendance(t *testing.T) {
	s := newTestServer(t, nil)
	s.data.Seed(fleet.EntityAccountingEntries,
		datastore.Record{"entry_id": 1, "date": "2024-01-10", "type": "receipt", "amount": 100.0},
		datastore.Record{"entry_id": 2, "date": "2024-01-10", "type": "payment", "amount": 40.0},
	)
	s.data.Seed(fleet.EntityAttendance,
		datastore.Record{"date": "2024-01-10", "status": "present", "count": 3},
	)

	w := s.do(t, http.MethodGet, "/api/accounting/entries?start=2024-01-01&end=2024-01-31", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/accounting/balance?date=2024-01-10", "")
	require.Equal(t, http.StatusOK, w.Code)
	bal := decode[struct {
		Data fleet.DailyBalance `json:"data"`
	}](t, w)
	assert.Equal(t, 60.0, bal.Data.Net)

	w = s.do(t, http.MethodGet, "/api/accounting/balance?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/attendance/overview?start=2024-01-01&end=2024-01-31", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"summary":{"present":3}`)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, map[string]Check{
		"cache": func(context.Context) error { return nil },
	})
	w := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cache":"ok"`)

	s = newTestServer(t, map[string]Check{
		"datastore": func(context.Context) error { return errors.New("breaker open") },
	})
	w = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/api/drivers", "")
	s.do(t, http.MethodGet, "/nope", "")

	w := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `opscache_http_requests_total{method="GET",path="/api/drivers",status_code="200"} 1`)
	assert.Contains(t, w.Body.String(), `path="unmatched",status_code="404"`)
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()))
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), ErrCodeInternal)
}
