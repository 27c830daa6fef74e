package datastore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" update ")
	require.NoError(t, err)
	assert.Equal(t, Update, k)

	_, err = ParseKind("UPSERT")
	assert.Error(t, err)
}

func TestKindSet(t *testing.T) {
	s := KindsOf(Insert, Update)
	assert.True(t, s.Has(Insert))
	assert.True(t, s.Has(Update))
	assert.False(t, s.Has(Delete))
	assert.False(t, s.Has(Kind("bogus")))
	assert.Equal(t, []Kind{Insert, Update}, s.Kinds())
	assert.Equal(t, []Kind{Insert, Update, Delete}, AllKinds.Kinds())
	assert.Empty(t, KindSet(0).Kinds())
}

func TestQueryBuilderDoesNotAlias(t *testing.T) {
	base := From("driver_daily_performance").Eq("driver_id", "d1")
	a := base.Gte("date", "2024-01-01")
	b := base.Lte("date", "2024-01-31")

	require.Len(t, a.Filters, 2)
	require.Len(t, b.Filters, 2)
	assert.Equal(t, OpGte, a.Filters[1].Op)
	assert.Equal(t, OpLte, b.Filters[1].Op)
	assert.Len(t, base.Filters, 1)
}

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "(23505) duplicate key", (&Error{Code: "23505", Message: "duplicate key"}).Error())
	assert.Equal(t, "boom", (&Error{Message: "boom"}).Error())

	var de *Error
	wrapped := errors.Join(errors.New("ctx"), &Error{Code: "42P01", Message: "missing"})
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "42P01", de.Code)
}

type row struct {
	ID     string  `json:"id"`
	Orders int     `json:"total_orders"`
	Rating float64 `json:"rating_average"`
}

func TestDecodeAndEncode(t *testing.T) {
	rows := []Record{{"id": "d1", "total_orders": float64(12), "rating_average": 4.5}}
	got, err := Decode[row](rows)
	require.NoError(t, err)
	assert.Equal(t, []row{{ID: "d1", Orders: 12, Rating: 4.5}}, got)

	one, err := DecodeOne[row](rows[0])
	require.NoError(t, err)
	assert.Equal(t, "d1", one.ID)

	rec, err := Encode(row{ID: "d2", Orders: 3})
	require.NoError(t, err)
	assert.Equal(t, "d2", rec.String("id"))
	assert.Equal(t, "3", rec.String("total_orders"))
	assert.Equal(t, "", rec.String("missing"))
}

func TestRecordClone(t *testing.T) {
	r := Record{"a": 1}
	c := r.Clone()
	c["a"] = 2
	assert.Equal(t, 1, r["a"])
	assert.Nil(t, Record(nil).Clone())
}
