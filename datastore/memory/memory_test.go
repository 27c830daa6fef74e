package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/opscache/datastore"
)

func seedPerformance(s *Store) {
	s.Seed("driver_daily_performance",
		datastore.Record{"id": "p3", "driver_id": "d1", "date": "2024-01-20", "total_orders": float64(9)},
		datastore.Record{"id": "p1", "driver_id": "d1", "date": "2024-01-02", "total_orders": float64(4)},
		datastore.Record{"id": "p2", "driver_id": "d2", "date": "2024-01-05", "total_orders": float64(7)},
		datastore.Record{"id": "p4", "driver_id": "d1", "date": "2024-02-01", "total_orders": float64(1)},
	)
}

func TestSelectFiltersAndOrders(t *testing.T) {
	s := New()
	seedPerformance(s)

	q := datastore.From("driver_daily_performance").
		Eq("driver_id", "d1").
		Gte("date", "2024-01-01").
		Lte("date", "2024-01-31").
		Order("date", true)

	rows, err := s.Select(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[0]["id"])
	assert.Equal(t, "p3", rows[1]["id"])
}

func TestSelectNumericOrderDescending(t *testing.T) {
	s := New()
	seedPerformance(s)

	rows, err := s.Select(context.Background(), datastore.From("driver_daily_performance").Order("total_orders", false))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "p3", rows[0]["id"])
	assert.Equal(t, "p4", rows[3]["id"])
}

func TestSelectReturnsCopies(t *testing.T) {
	s := New()
	s.Seed("drivers", datastore.Record{"id": "d1", "status": "active"})

	rows, err := s.Select(context.Background(), datastore.From("drivers"))
	require.NoError(t, err)
	rows[0]["status"] = "inactive"

	assert.Equal(t, "active", s.Rows("drivers")[0]["status"])
}

func TestInsertUpsertsByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "drivers", datastore.Record{"id": "d1", "full_name": "Ann"}))
	require.NoError(t, s.Insert(ctx, "drivers", datastore.Record{"id": "d1", "full_name": "Anna"}))
	require.NoError(t, s.Insert(ctx, "drivers", datastore.Record{"id": "d2", "full_name": "Bo"}))

	rows := s.Rows("drivers")
	require.Len(t, rows, 2)
	assert.Equal(t, "Anna", rows[0]["full_name"])
}

func TestUpdateAndDeleteByMatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Seed("drivers",
		datastore.Record{"id": "d1", "status": "active"},
		datastore.Record{"id": "d2", "status": "active"},
	)

	require.NoError(t, s.Update(ctx, "drivers", datastore.Record{"status": "suspended"}, datastore.Record{"id": "d2"}))
	rows := s.Rows("drivers")
	assert.Equal(t, "active", rows[0]["status"])
	assert.Equal(t, "suspended", rows[1]["status"])

	require.NoError(t, s.Delete(ctx, "drivers", datastore.Record{"id": "d1"}))
	rows = s.Rows("drivers")
	require.Len(t, rows, 1)
	assert.Equal(t, "d2", rows[0]["id"])
}

func TestUnconditionalWritesRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	var de *datastore.Error

	err := s.Update(ctx, "drivers", datastore.Record{"status": "x"}, nil)
	require.ErrorAs(t, err, &de)
	err = s.Delete(ctx, "drivers", datastore.Record{})
	require.ErrorAs(t, err, &de)
}

func TestFault(t *testing.T) {
	s := New()
	s.SetFault(func(op, entity string) error {
		if op == "update" && entity == "drivers" {
			return &datastore.Error{Code: "23514", Message: "check violation"}
		}
		return nil
	})
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "drivers", datastore.Record{"id": "d1"}))
	err := s.Update(ctx, "drivers", datastore.Record{"status": "x"}, datastore.Record{"id": "d1"})
	var de *datastore.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "23514", de.Code)
}

func TestChangeFeed(t *testing.T) {
	s := New()
	ctx := context.Background()
	sub, err := s.Subscribe(ctx, "drivers")
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, "drivers", datastore.Record{"id": "d1", "status": "active"}))
	require.NoError(t, s.Update(ctx, "drivers", datastore.Record{"status": "inactive"}, datastore.Record{"id": "d1"}))
	require.NoError(t, s.Delete(ctx, "drivers", datastore.Record{"id": "d1"}))
	require.NoError(t, s.Insert(ctx, "attendance", datastore.Record{"id": "a1"}))

	want := []datastore.Kind{datastore.Insert, datastore.Update, datastore.Delete}
	for i, k := range want {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, k, ev.Kind, "event %d", i)
			assert.Equal(t, "drivers", ev.Entity)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	_, open := <-sub.Events()
	assert.False(t, open)

	// closed subscribers no longer receive events
	require.NoError(t, s.Insert(ctx, "drivers", datastore.Record{"id": "d9"}))
}

func TestUpdateEventCarriesBeforeAndAfter(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Seed("drivers", datastore.Record{"id": "d1", "status": "active"})
	sub, err := s.Subscribe(ctx, "drivers")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Update(ctx, "drivers", datastore.Record{"status": "on_leave"}, datastore.Record{"id": "d1"}))
	ev := <-sub.Events()
	assert.Equal(t, "active", ev.Before["status"])
	assert.Equal(t, "on_leave", ev.After["status"])
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Select(ctx, datastore.From("drivers"))
	assert.ErrorIs(t, err, context.Canceled)
}
