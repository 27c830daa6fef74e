// Package fleet is the back-office domain served through the cache: drivers,
// their daily performance, attendance and accounting entries.
package fleet

import "fmt"

// Tables and derived views. Derived names only exist as cache entities.
const (
	EntityDrivers             = "drivers"
	EntityDriverPerformance   = "driver_daily_performance"
	EntityDriverAttendance    = "driver_attendance"
	EntityAttendance          = "attendance"
	EntityAttendanceOverview  = "attendance_overview"
	EntityAccountingEntries   = "accounting_entries"
	EntityProfitAndLoss       = "profit_and_loss"
	EntityPayments            = "payments"
	EntityEmployeeRecords     = "employee_records"
	EntityDailyOrderMetrics   = "daily_order_metrics"
	EntityMonthlyOrderMetrics = "monthly_order_metrics"
	EntityMonthlyStatements   = "driver_monthly_statements"
)

type DriverStatus string

const (
	DriverActive    DriverStatus = "active"
	DriverInactive  DriverStatus = "inactive"
	DriverSuspended DriverStatus = "suspended"
	DriverOnLeave   DriverStatus = "on_leave"
)

func (s DriverStatus) Valid() bool {
	switch s {
	case DriverActive, DriverInactive, DriverSuspended, DriverOnLeave:
		return true
	}
	return false
}

func ParseDriverStatus(s string) (DriverStatus, error) {
	if st := DriverStatus(s); st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("fleet: unknown driver status %q", s)
}

type Driver struct {
	ID          string       `json:"id" cbor:"id" msgpack:"id"`
	FullName    string       `json:"full_name" cbor:"full_name" msgpack:"full_name"`
	Phone       string       `json:"phone" cbor:"phone" msgpack:"phone"`
	Email       string       `json:"email" cbor:"email" msgpack:"email"`
	Status      DriverStatus `json:"status" cbor:"status" msgpack:"status"`
	VehicleType string       `json:"vehicle_type" cbor:"vehicle_type" msgpack:"vehicle_type"`
	JoiningDate string       `json:"joining_date" cbor:"joining_date" msgpack:"joining_date"`
	CreatedAt   string       `json:"created_at,omitempty" cbor:"created_at,omitempty" msgpack:"created_at,omitempty"`
	UpdatedAt   string       `json:"updated_at,omitempty" cbor:"updated_at,omitempty" msgpack:"updated_at,omitempty"`
}

func driverID(d Driver) string { return d.ID }

type ShiftType string

const (
	ShiftDay   ShiftType = "day"
	ShiftNight ShiftType = "night"
	ShiftOther ShiftType = "other"
)

// DriverDailyPerformance is one driver-day. Dates are YYYY-MM-DD.
type DriverDailyPerformance struct {
	OrdersID      int64     `json:"orders_id" cbor:"orders_id" msgpack:"orders_id"`
	DriverID      string    `json:"driver_id" cbor:"driver_id" msgpack:"driver_id"`
	Date          string    `json:"date" cbor:"date" msgpack:"date"`
	Shift         ShiftType `json:"shift,omitempty" cbor:"shift,omitempty" msgpack:"shift,omitempty"`
	Location      string    `json:"location,omitempty" cbor:"location,omitempty" msgpack:"location,omitempty"`
	OrderCount    int       `json:"order_count" cbor:"order_count" msgpack:"order_count"`
	TotalOrders   int       `json:"total_orders" cbor:"total_orders" msgpack:"total_orders"`
	RatingAverage *float64  `json:"rating_average,omitempty" cbor:"rating_average,omitempty" msgpack:"rating_average,omitempty"`
}

func (p DriverDailyPerformance) rating() float64 {
	if p.RatingAverage == nil {
		return 0
	}
	return *p.RatingAverage
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceOnLeave AttendanceStatus = "on leave"
)

// AttendanceSummary counts attendance rows per status.
type AttendanceSummary map[AttendanceStatus]int

type EntryType string

const (
	EntryPayment EntryType = "payment"
	EntryReceipt EntryType = "receipt"
)

type AccountingEntry struct {
	EntryID       int64     `json:"entry_id" cbor:"entry_id" msgpack:"entry_id"`
	Date          string    `json:"date" cbor:"date" msgpack:"date"`
	Type          EntryType `json:"type" cbor:"type" msgpack:"type"`
	Amount        float64   `json:"amount" cbor:"amount" msgpack:"amount"`
	Category      string    `json:"category" cbor:"category" msgpack:"category"`
	Description   string    `json:"description" cbor:"description" msgpack:"description"`
	PaymentMethod string    `json:"payment_method" cbor:"payment_method" msgpack:"payment_method"`
	Status        string    `json:"status" cbor:"status" msgpack:"status"`
	CreatedAt     string    `json:"created_at,omitempty" cbor:"created_at,omitempty" msgpack:"created_at,omitempty"`
	UpdatedAt     string    `json:"updated_at,omitempty" cbor:"updated_at,omitempty" msgpack:"updated_at,omitempty"`
}

// DailyBalance is receipts minus payments for one day.
type DailyBalance struct {
	Date     string  `json:"date" cbor:"date" msgpack:"date"`
	Receipts float64 `json:"receipts" cbor:"receipts" msgpack:"receipts"`
	Payments float64 `json:"payments" cbor:"payments" msgpack:"payments"`
	Net      float64 `json:"net" cbor:"net" msgpack:"net"`
}

// DailyOrderMetrics is the fleet-wide order count for one day against target.
type DailyOrderMetrics struct {
	ID                 int64   `json:"id" cbor:"id" msgpack:"id"`
	Date               string  `json:"date" cbor:"date" msgpack:"date"`
	TotalOrders        int     `json:"total_orders" cbor:"total_orders" msgpack:"total_orders"`
	OrdersTarget       int     `json:"orders_target" cbor:"orders_target" msgpack:"orders_target"`
	AchievedPercentage float64 `json:"achieved_percentage" cbor:"achieved_percentage" msgpack:"achieved_percentage"`
}

type MonthlyOrderMetrics struct {
	ID                 int64   `json:"id" cbor:"id" msgpack:"id"`
	Year               int     `json:"year" cbor:"year" msgpack:"year"`
	Month              string  `json:"month" cbor:"month" msgpack:"month"`
	TotalOrders        int     `json:"total_orders" cbor:"total_orders" msgpack:"total_orders"`
	OrdersTarget       int     `json:"orders_target" cbor:"orders_target" msgpack:"orders_target"`
	AchievedPercentage float64 `json:"achieved_percentage" cbor:"achieved_percentage" msgpack:"achieved_percentage"`
}

// ProfitAndLoss is one statement period. Gross and net profit are computed
// by the data store.
type ProfitAndLoss struct {
	StatementID       int64   `json:"statement_id" cbor:"statement_id" msgpack:"statement_id"`
	Period            string  `json:"period" cbor:"period" msgpack:"period"`
	StatementPeriod   string  `json:"statement_period,omitempty" cbor:"statement_period,omitempty" msgpack:"statement_period,omitempty"`
	DateRangeStart    string  `json:"date_range_start" cbor:"date_range_start" msgpack:"date_range_start"`
	DateRangeEnd      string  `json:"date_range_end" cbor:"date_range_end" msgpack:"date_range_end"`
	Revenue           float64 `json:"revenue" cbor:"revenue" msgpack:"revenue"`
	Expenses          float64 `json:"expenses" cbor:"expenses" msgpack:"expenses"`
	Taxes             float64 `json:"taxes" cbor:"taxes" msgpack:"taxes"`
	OperatingExpenses float64 `json:"operating_expenses" cbor:"operating_expenses" msgpack:"operating_expenses"`
	GrossProfit       float64 `json:"gross_profit" cbor:"gross_profit" msgpack:"gross_profit"`
	NetProfit         float64 `json:"net_profit" cbor:"net_profit" msgpack:"net_profit"`
}

// DailyEntry is one worked (or missed) day on a monthly statement.
type DailyEntry struct {
	Day         int              `json:"day" cbor:"day" msgpack:"day"`
	HoursWorked float64          `json:"hours_worked" cbor:"hours_worked" msgpack:"hours_worked"`
	Status      AttendanceStatus `json:"status" cbor:"status" msgpack:"status"`
	Notes       string           `json:"notes,omitempty" cbor:"notes,omitempty" msgpack:"notes,omitempty"`
}

type MonthlyStatement struct {
	ID           string       `json:"id" cbor:"id" msgpack:"id"`
	DriverID     string       `json:"driver_id" cbor:"driver_id" msgpack:"driver_id"`
	Month        int          `json:"month" cbor:"month" msgpack:"month"`
	Year         int          `json:"year" cbor:"year" msgpack:"year"`
	TotalDays    int          `json:"total_days" cbor:"total_days" msgpack:"total_days"`
	TotalHours   float64      `json:"total_hours" cbor:"total_hours" msgpack:"total_hours"`
	DailyEntries []DailyEntry `json:"daily_entries" cbor:"daily_entries" msgpack:"daily_entries"`
	CreatedAt    string       `json:"created_at,omitempty" cbor:"created_at,omitempty" msgpack:"created_at,omitempty"`
}
