package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/codec"
	"github.com/unkn0wn-root/opscache/datastore"
)

const dateLayout = "2006-01-02"

// ErrInvalidArgument marks caller input rejected before any data store call.
var ErrInvalidArgument = errors.New("fleet: invalid argument")

type Config struct {
	Store *opscache.Store
	Data  datastore.Store
	Feed  datastore.Subscriber // optional; Watch and WatchDrivers fail without it
	Rules *opscache.Rules      // nil => opscache.DefaultRules()
	Codec string               // json, cbor or msgpack
	// MaxDecode bounds cached payloads on read; 0 disables the check.
	MaxDecode int
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service reads the back-office tables through the cache and writes through
// the batch executor so every write invalidates what it affects.
type Service struct {
	store  *opscache.Store
	data   datastore.Store
	rules  *opscache.Rules
	exec   *opscache.Executor
	bridge *opscache.Bridge
	log    *zap.Logger
	now    func() time.Time

	drivers     *opscache.View[[]Driver]
	performance *opscache.View[[]DriverDailyPerformance]
	entries     *opscache.View[[]AccountingEntry]
	balances    *opscache.View[DailyBalance]
	attendance  *opscache.View[[]datastore.Record]
	daily       *opscache.View[[]DailyOrderMetrics]
	monthly     *opscache.View[[]MonthlyOrderMetrics]
	pnl         *opscache.View[[]ProfitAndLoss]
	statements  *opscache.View[[]MonthlyStatement]

	live *opscache.LiveList[Driver]
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Data == nil {
		return nil, errors.New("fleet: store and data are required")
	}
	rules := cfg.Rules
	if rules == nil {
		rules = opscache.DefaultRules()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	dc, err := CodecFor[[]Driver](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	pc, err := CodecFor[[]DriverDailyPerformance](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	ec, err := CodecFor[[]AccountingEntry](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	bc, err := CodecFor[DailyBalance](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	doc, err := CodecFor[[]DailyOrderMetrics](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	moc, err := CodecFor[[]MonthlyOrderMetrics](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	plc, err := CodecFor[[]ProfitAndLoss](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	sc, err := CodecFor[[]MonthlyStatement](cfg.Codec, cfg.MaxDecode)
	if err != nil {
		return nil, err
	}
	var rc codec.Codec[[]datastore.Record] = codec.Records{}
	if cfg.MaxDecode > 0 {
		rc = codec.Limit[[]datastore.Record]{Inner: rc, MaxDecode: cfg.MaxDecode}
	}

	return &Service{
		store:       cfg.Store,
		data:        cfg.Data,
		rules:       rules,
		exec:        opscache.NewExecutor(cfg.Store, cfg.Data, rules),
		bridge:      opscache.NewBridge(cfg.Store, rules, cfg.Feed),
		log:         log.Named("fleet"),
		now:         now,
		drivers:     opscache.NewView(cfg.Store, dc),
		performance: opscache.NewView(cfg.Store, pc),
		entries:     opscache.NewView(cfg.Store, ec),
		balances:    opscache.NewView(cfg.Store, bc),
		attendance:  opscache.NewView(cfg.Store, rc),
		daily:       opscache.NewView(cfg.Store, doc),
		monthly:     opscache.NewView(cfg.Store, moc),
		pnl:         opscache.NewView(cfg.Store, plc),
		statements:  opscache.NewView(cfg.Store, sc),
		live:        opscache.NewLiveList(EntityDrivers, driverID, nil),
	}, nil
}

func (s *Service) Cache() *opscache.Store   { return s.store }
func (s *Service) Rules() *opscache.Rules   { return s.rules }
func (s *Service) Bridge() *opscache.Bridge { return s.bridge }

// Drivers returns every driver ordered by full name.
func (s *Service) Drivers(ctx context.Context, force bool) ([]Driver, error) {
	mark := s.live.Mark()
	ds, err := s.drivers.Fetch(ctx, opscache.Key(EntityDrivers), func(ctx context.Context) ([]Driver, error) {
		return datastore.Select[Driver](ctx, s.data, datastore.From(EntityDrivers).Order("full_name", true))
	}, opscache.ForceRefresh(force))
	if err != nil {
		return nil, err
	}
	s.live.ReplaceSince(ds, mark)
	return ds, nil
}

// LiveDrivers is the driver list as last fetched and patched by change events.
func (s *Service) LiveDrivers() []Driver { return s.live.Snapshot() }

// DriverPerformance returns one driver's days in [start, end], oldest first.
func (s *Service) DriverPerformance(ctx context.Context, driverID, start, end string, force bool) ([]DriverDailyPerformance, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrInvalidArgument)
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	key := opscache.Scoped(EntityDriverPerformance, driverID, start, end)
	return s.performance.Fetch(ctx, key, func(ctx context.Context) ([]DriverDailyPerformance, error) {
		q := datastore.From(EntityDriverPerformance).
			Eq("driver_id", driverID).
			Gte("date", start).
			Lte("date", end).
			Order("date", true)
		return datastore.Select[DriverDailyPerformance](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}

// UpdateDriverStatus writes the status, invalidates drivers and its
// dependents, and returns the refetched list.
func (s *Service) UpdateDriverStatus(ctx context.Context, id string, status DriverStatus) ([]Driver, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrInvalidArgument)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: driver status %q", ErrInvalidArgument, status)
	}
	payload := datastore.Record{"status": string(status), "updated_at": s.now().UTC().Format(time.RFC3339)}
	if err := s.data.Update(ctx, EntityDrivers, payload, datastore.Record{"id": id}); err != nil {
		s.log.Warn("driver status update failed", zap.String("driver", id), zap.Error(err))
		return nil, fmt.Errorf("fleet: update driver %s: %w", id, err)
	}
	s.store.InvalidateFor(ctx, s.rules, EntityDrivers, datastore.Update)
	return s.Drivers(ctx, true)
}

// AccountingEntries returns entries dated in [start, end], oldest first.
func (s *Service) AccountingEntries(ctx context.Context, start, end string, force bool) ([]AccountingEntry, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	key := opscache.Scoped(EntityAccountingEntries, start, end)
	return s.entries.Fetch(ctx, key, func(ctx context.Context) ([]AccountingEntry, error) {
		q := datastore.From(EntityAccountingEntries).Gte("date", start).Lte("date", end).Order("date", true)
		return datastore.Select[AccountingEntry](ctx, s.data, q)
	}, opscache.ForceRefresh(force))
}

// DailyBalance sums one day's receipts and payments. It is cached as
// profit_and_loss so accounting writes expire it.
func (s *Service) DailyBalance(ctx context.Context, date string, force bool) (DailyBalance, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return DailyBalance{}, fmt.Errorf("%w: date %q", ErrInvalidArgument, date)
	}
	key := opscache.Scoped(EntityProfitAndLoss, date)
	return s.balances.Fetch(ctx, key, func(ctx context.Context) (DailyBalance, error) {
		q := datastore.From(EntityAccountingEntries).Select("type,amount").Eq("date", date)
		rows, err := datastore.Select[AccountingEntry](ctx, s.data, q)
		if err != nil {
			return DailyBalance{}, err
		}
		b := DailyBalance{Date: date}
		for _, r := range rows {
			switch r.Type {
			case EntryReceipt:
				b.Receipts += r.Amount
			case EntryPayment:
				b.Payments += r.Amount
			}
		}
		b.Net = b.Receipts - b.Payments
		return b, nil
	}, opscache.ForceRefresh(force))
}

// AttendanceOverview returns the raw date/status/count rows in [start, end].
func (s *Service) AttendanceOverview(ctx context.Context, start, end string, force bool) ([]datastore.Record, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	key := opscache.Scoped(EntityAttendanceOverview, start, end)
	return s.attendance.Fetch(ctx, key, func(ctx context.Context) ([]datastore.Record, error) {
		q := datastore.From(EntityAttendance).Select("date,status,count").
			Gte("date", start).Lte("date", end).Order("date", true)
		return s.data.Select(ctx, q)
	}, opscache.ForceRefresh(force))
}

// Summarize totals overview rows per status. Rows without a count column
// count once.
func Summarize(rows []datastore.Record) AttendanceSummary {
	out := make(AttendanceSummary)
	for _, r := range rows {
		st := AttendanceStatus(r.String("status"))
		if st == "" {
			continue
		}
		n := 1
		switch c := r["count"].(type) {
		case float64:
			n = int(c)
		case int:
			n = c
		case int64:
			n = int(c)
		}
		out[st] += n
	}
	return out
}

// ExecuteBatch applies ops and refreshes the driver list whenever at least
// one operation was written, including a batch aborted part way. A refresh
// failure is logged and never replaces the batch outcome.
func (s *Service) ExecuteBatch(ctx context.Context, ops []opscache.BatchOperation) (opscache.BatchResult, error) {
	res, err := s.exec.ExecuteBatch(ctx, ops)
	if err != nil {
		var abort *opscache.BatchAbortError
		if errors.As(err, &abort) && abort.Applied > 0 {
			s.refreshAfter(ctx, res)
		}
		return res, err
	}
	s.refreshAfter(ctx, res)
	return res, nil
}

func (s *Service) refreshAfter(ctx context.Context, res opscache.BatchResult) {
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("refresh after batch failed", zap.String("batch", res.ID.String()), zap.Error(err))
	}
}

// Refresh refetches the driver list bypassing the cache.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.Drivers(ctx, true)
	return err
}

// watched are the tables followed besides drivers. Their events only
// invalidate; nothing keeps a live copy of them.
var watched = []string{
	EntityAccountingEntries,
	EntityAttendance,
	EntityDailyOrderMetrics,
	EntityMonthlyOrderMetrics,
}

// Watch follows every realtime table the dashboard reads. If one
// subscription fails the ones already started are stopped.
func (s *Service) Watch(ctx context.Context) ([]*opscache.Watch, error) {
	d, err := s.WatchDrivers(ctx)
	if err != nil {
		return nil, err
	}
	ws := []*opscache.Watch{d}
	for _, e := range watched {
		w, err := s.bridge.Watch(ctx, e)
		if err != nil {
			for _, w := range ws {
				_ = w.Stop()
			}
			return nil, fmt.Errorf("fleet: watch %s: %w", e, err)
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// WatchDrivers keeps the cache and LiveDrivers current from the change feed
// until the returned watch is stopped.
func (s *Service) WatchDrivers(ctx context.Context) (*opscache.Watch, error) {
	w, err := s.bridge.Watch(ctx, EntityDrivers, s.live)
	if err != nil {
		return nil, fmt.Errorf("fleet: watch drivers: %w", err)
	}
	return w, nil
}

// Logout drops every cached entry and the live list.
func (s *Service) Logout(ctx context.Context) error {
	s.live.Replace(nil)
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("fleet: clear cache: %w", err)
	}
	s.log.Info("cache cleared on logout")
	return nil
}

func checkRange(start, end string) error {
	a, err := time.Parse(dateLayout, start)
	if err != nil {
		return fmt.Errorf("%w: start date %q", ErrInvalidArgument, start)
	}
	b, err := time.Parse(dateLayout, end)
	if err != nil {
		return fmt.Errorf("%w: end date %q", ErrInvalidArgument, end)
	}
	if b.Before(a) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidArgument, end, start)
	}
	return nil
}
