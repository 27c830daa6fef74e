// Package httpapi exposes the fleet service and cache controls over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
	"github.com/unkn0wn-root/opscache/internal/fleet"
)

// Service is what the handlers need from fleet.Service.
type Service interface {
	Drivers(ctx context.Context, force bool) ([]fleet.Driver, error)
	LiveDrivers() []fleet.Driver
	DriverPerformance(ctx context.Context, driverID, start, end string, force bool) ([]fleet.DriverDailyPerformance, error)
	UpdateDriverStatus(ctx context.Context, id string, status fleet.DriverStatus) ([]fleet.Driver, error)
	AccountingEntries(ctx context.Context, start, end string, force bool) ([]fleet.AccountingEntry, error)
	DailyBalance(ctx context.Context, date string, force bool) (fleet.DailyBalance, error)
	AttendanceOverview(ctx context.Context, start, end string, force bool) ([]datastore.Record, error)
	PerformanceRange(ctx context.Context, start, end string, force bool) ([]fleet.DriverDailyPerformance, error)
	DailyOrderMetrics(ctx context.Context, days int, force bool) ([]fleet.DailyOrderMetrics, error)
	MonthlyOrderMetrics(ctx context.Context, year int, force bool) ([]fleet.MonthlyOrderMetrics, error)
	ProfitAndLoss(ctx context.Context, months int, force bool) ([]fleet.ProfitAndLoss, error)
	GenerateMonthlyStatement(ctx context.Context, driverID string, month, year int) (fleet.MonthlyStatement, error)
	MonthlyStatements(ctx context.Context, driverID string, force bool) ([]fleet.MonthlyStatement, error)
	ExecuteBatch(ctx context.Context, ops []opscache.BatchOperation) (opscache.BatchResult, error)
	Logout(ctx context.Context) error
	Cache() *opscache.Store
}

var _ Service = (*fleet.Service)(nil)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler { return &Handler{svc: svc} }

func force(c *gin.Context) bool {
	f, _ := strconv.ParseBool(c.Query("force"))
	return f
}

// ListDrivers handles GET /api/drivers.
func (h *Handler) ListDrivers(c *gin.Context) {
	ds, err := h.svc.Drivers(c.Request.Context(), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, ds)
}

// LiveDrivers handles GET /api/drivers/live.
func (h *Handler) LiveDrivers(c *gin.Context) {
	ok(c, h.svc.LiveDrivers())
}

// DriverPerformance handles GET /api/drivers/:id/performance?start=&end=.
func (h *Handler) DriverPerformance(c *gin.Context) {
	days, err := h.svc.DriverPerformance(c.Request.Context(), c.Param("id"), c.Query("start"), c.Query("end"), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, days)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateDriverStatus handles PATCH /api/drivers/:id/status.
func (h *Handler) UpdateDriverStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := fleet.ParseDriverStatus(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ds, err := h.svc.UpdateDriverStatus(c.Request.Context(), c.Param("id"), st)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, ds)
}

// AccountingEntries handles GET /api/accounting/entries?start=&end=.
func (h *Handler) AccountingEntries(c *gin.Context) {
	es, err := h.svc.AccountingEntries(c.Request.Context(), c.Query("start"), c.Query("end"), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, es)
}

// DailyBalance handles GET /api/accounting/balance?date=.
func (h *Handler) DailyBalance(c *gin.Context) {
	b, err := h.svc.DailyBalance(c.Request.Context(), c.Query("date"), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, b)
}

// AttendanceOverview handles GET /api/attendance/overview?start=&end=.
func (h *Handler) AttendanceOverview(c *gin.Context) {
	rows, err := h.svc.AttendanceOverview(c.Request.Context(), c.Query("start"), c.Query("end"), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"rows": rows, "summary": fleet.Summarize(rows)})
}

// intQuery reads a positive integer query parameter, def when absent.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}

// PerformanceRange handles GET /api/dashboard/performance?start=&end=.
func (h *Handler) PerformanceRange(c *gin.Context) {
	days, err := h.svc.PerformanceRange(c.Request.Context(), c.Query("start"), c.Query("end"), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, days)
}

// DailyOrderMetrics handles GET /api/dashboard/daily-orders?days=.
func (h *Handler) DailyOrderMetrics(c *gin.Context) {
	days, valid := intQuery(c, "days", 30)
	if !valid {
		return
	}
	ms, err := h.svc.DailyOrderMetrics(c.Request.Context(), days, force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, ms)
}

// MonthlyOrderMetrics handles GET /api/dashboard/monthly-orders?year=.
func (h *Handler) MonthlyOrderMetrics(c *gin.Context) {
	year, valid := intQuery(c, "year", time.Now().Year())
	if !valid {
		return
	}
	ms, err := h.svc.MonthlyOrderMetrics(c.Request.Context(), year, force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, ms)
}

// ProfitAndLoss handles GET /api/dashboard/profit-loss?months=.
func (h *Handler) ProfitAndLoss(c *gin.Context) {
	months, valid := intQuery(c, "months", 12)
	if !valid {
		return
	}
	pl, err := h.svc.ProfitAndLoss(c.Request.Context(), months, force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, pl)
}

type statementRequest struct {
	Month int `json:"month" binding:"required,min=1,max=12"`
	Year  int `json:"year" binding:"required,min=1"`
}

// GenerateStatement handles POST /api/drivers/:id/statements.
func (h *Handler) GenerateStatement(c *gin.Context) {
	var req statementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := h.svc.GenerateMonthlyStatement(c.Request.Context(), c.Param("id"), req.Month, req.Year)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Data: st, RequestID: requestID(c), Timestamp: time.Now()})
}

// MonthlyStatements handles GET /api/drivers/:id/statements.
func (h *Handler) MonthlyStatements(c *gin.Context) {
	sts, err := h.svc.MonthlyStatements(c.Request.Context(), c.Param("id"), force(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, sts)
}

type batchRequest struct {
	Operations []opscache.BatchOperation `json:"operations" binding:"required"`
}

type batchResponse struct {
	ID          string   `json:"id"`
	Applied     int      `json:"applied"`
	Invalidated []string `json:"invalidated"`
}

// ExecuteBatch handles POST /api/batch.
func (h *Handler) ExecuteBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	for i := range req.Operations {
		req.Operations[i].Kind = datastore.Kind(strings.ToUpper(string(req.Operations[i].Kind)))
	}
	res, err := h.svc.ExecuteBatch(c.Request.Context(), req.Operations)
	if err != nil {
		writeError(c, err)
		return
	}
	inv := res.Invalidated
	if inv == nil {
		inv = []string{}
	}
	ok(c, batchResponse{ID: res.ID.String(), Applied: res.Applied, Invalidated: inv})
}

// ClearCache handles POST /api/cache/clear (logout).
func (h *Handler) ClearCache(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"cleared": true})
}

type ttlRequest struct {
	TTL string `json:"ttl" binding:"required"`
}

// GetTTL handles GET /api/cache/ttl.
func (h *Handler) GetTTL(c *gin.Context) {
	ok(c, gin.H{"ttl": h.svc.Cache().TTL().String()})
}

// SetTTL handles PUT /api/cache/ttl. Existing entries keep their expiry;
// "0s" restores the default TTL.
func (h *Handler) SetTTL(c *gin.Context) {
	var req ttlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := time.ParseDuration(req.TTL)
	if err != nil || d < 0 {
		badRequest(c, "ttl must be a non-negative duration such as 5m")
		return
	}
	store := h.svc.Cache()
	store.SetTTL(d)
	ok(c, gin.H{"ttl": store.TTL().String()})
}
