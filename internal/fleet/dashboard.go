package fleet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
)

// hoursPerActiveDay is credited for every day with at least one order.
const hoursPerActiveDay = 8

// PerformanceRange returns every driver's days in [start, end], oldest first.
func (s *Service) PerformanceRange(ctx context.Context, start, end string, force bool) ([]DriverDailyPerformance, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	key := opscache.Scoped(EntityDriverPerformance, start, end)
	return s.performance.Fetch(ctx, key, func(ctx context.Context) ([]DriverDailyPerformance, error) {
		q := datastore.From(EntityDriverPerformance).Gte("date", start).Lte("date", end).Order("date", true)
		return datastore.Select[DriverDailyPerformance](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}

// DailyOrderMetrics returns the last days days of order metrics, oldest first.
func (s *Service) DailyOrderMetrics(ctx context.Context, days int, force bool) ([]DailyOrderMetrics, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", ErrInvalidArgument, days)
	}
	since := s.now().UTC().AddDate(0, 0, -days).Format(dateLayout)
	key := opscache.Scoped(EntityDailyOrderMetrics, since)
	return s.daily.Fetch(ctx, key, func(ctx context.Context) ([]DailyOrderMetrics, error) {
		q := datastore.From(EntityDailyOrderMetrics).Gte("date", since).Order("date", true)
		return datastore.Select[DailyOrderMetrics](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}

// MonthlyOrderMetrics returns one year of monthly order metrics.
func (s *Service) MonthlyOrderMetrics(ctx context.Context, year int, force bool) ([]MonthlyOrderMetrics, error) {
	if year < 1 || year > 9999 {
		return nil, fmt.Errorf("%w: year %d", ErrInvalidArgument, year)
	}
	y := strconv.Itoa(year)
	key := opscache.Scoped(EntityMonthlyOrderMetrics, y)
	return s.monthly.Fetch(ctx, key, func(ctx context.Context) ([]MonthlyOrderMetrics, error) {
		q := datastore.From(EntityMonthlyOrderMetrics).Eq("year", y).Order("month", true)
		return datastore.Select[MonthlyOrderMetrics](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}

// ProfitAndLoss returns the statement periods of the last months months. It
// shares the profit_and_loss entity with DailyBalance, so accounting writes
// expire both.
func (s *Service) ProfitAndLoss(ctx context.Context, months int, force bool) ([]ProfitAndLoss, error) {
	if months <= 0 {
		return nil, fmt.Errorf("%w: months must be positive, got %d", ErrInvalidArgument, months)
	}
	since := s.now().UTC().AddDate(0, -months, 0).Format(dateLayout)
	key := opscache.Scoped(EntityProfitAndLoss, "period", since)
	return s.pnl.Fetch(ctx, key, func(ctx context.Context) ([]ProfitAndLoss, error) {
		q := datastore.From(EntityProfitAndLoss).Gte("period", since).Order("period", true)
		return datastore.Select[ProfitAndLoss](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}

// GenerateMonthlyStatement builds a driver's statement for month/year from
// their daily performance and stores it. A day with orders counts as a
// present 8 hour day; a day without is absent with no hours.
func (s *Service) GenerateMonthlyStatement(ctx context.Context, driverID string, month, year int) (MonthlyStatement, error) {
	if driverID == "" {
		return MonthlyStatement{}, fmt.Errorf("%w: driver id is required", ErrInvalidArgument)
	}
	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return MonthlyStatement{}, fmt.Errorf("%w: month %d/%d", ErrInvalidArgument, month, year)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	days, err := s.DriverPerformance(ctx, driverID, first.Format(dateLayout), last.Format(dateLayout), false)
	if err != nil {
		return MonthlyStatement{}, err
	}

	st := MonthlyStatement{
		ID:           uuid.NewString(),
		DriverID:     driverID,
		Month:        month,
		Year:         year,
		DailyEntries: make([]DailyEntry, 0, len(days)),
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
	}
	for _, p := range days {
		e := dailyEntry(p)
		st.TotalHours += e.HoursWorked
		st.DailyEntries = append(st.DailyEntries, e)
	}
	st.TotalDays = len(st.DailyEntries)

	row, err := datastore.Encode(st)
	if err != nil {
		return MonthlyStatement{}, err
	}
	_, err = s.exec.ExecuteBatch(ctx, []opscache.BatchOperation{{
		Kind:    datastore.Insert,
		Entity:  EntityMonthlyStatements,
		Payload: row,
	}})
	if err != nil {
		var abort *opscache.BatchAbortError
		if errors.As(err, &abort) {
			err = abort.Err
		}
		s.log.Warn("save monthly statement failed", zap.String("driver", driverID), zap.Error(err))
		return MonthlyStatement{}, fmt.Errorf("fleet: save statement for %s: %w", driverID, err)
	}
	return st, nil
}

func dailyEntry(p DriverDailyPerformance) DailyEntry {
	e := DailyEntry{Status: AttendanceAbsent}
	if t, err := time.Parse(dateLayout, p.Date); err == nil {
		e.Day = t.Day()
	}
	var notes []string
	if p.TotalOrders > 0 {
		e.HoursWorked = hoursPerActiveDay
		e.Status = AttendancePresent
		notes = append(notes, fmt.Sprintf("Orders: %d", p.TotalOrders))
	}
	if r := p.rating(); r != 0 {
		notes = append(notes, "Rating: "+strconv.FormatFloat(r, 'f', -1, 64))
	}
	e.Notes = strings.Join(notes, " | ")
	return e
}

// MonthlyStatements returns a driver's stored statements, newest first.
func (s *Service) MonthlyStatements(ctx context.Context, driverID string, force bool) ([]MonthlyStatement, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrInvalidArgument)
	}
	key := opscache.Scoped(EntityMonthlyStatements, driverID)
	return s.statements.Fetch(ctx, key, func(ctx context.Context) ([]MonthlyStatement, error) {
		q := datastore.From(EntityMonthlyStatements).Eq("driver_id", driverID).Order("created_at", false)
		return datastore.Select[MonthlyStatement](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}
