package codec

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/opscache/datastore"
)

type driverRow struct {
	ID       string    `json:"id"`
	FullName string    `json:"full_name"`
	Status   string    `json:"status"`
	Joined   time.Time `json:"joining_date"`
}

func TestTypedCodecsPreserveRows(t *testing.T) {
	rows := []driverRow{
		{ID: "d1", FullName: "Ada", Status: "active", Joined: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "d2", FullName: "Grace", Status: "on_leave", Joined: time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC)},
	}
	codecs := map[string]Codec[[]driverRow]{
		"json":    JSON[[]driverRow]{},
		"cbor":    MustCBOR[[]driverRow](true),
		"msgpack": Msgpack[[]driverRow]{},
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(rows)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(got) != len(rows) {
				t.Fatalf("len=%d want %d", len(got), len(rows))
			}
			for i := range rows {
				if got[i].ID != rows[i].ID || got[i].FullName != rows[i].FullName ||
					got[i].Status != rows[i].Status || !got[i].Joined.Equal(rows[i].Joined) {
					t.Fatalf("row %d: got %+v want %+v", i, got[i], rows[i])
				}
			}
		})
	}
}

func TestCBORDeterministicIsByteStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, _ := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs for equal maps")
	}
}

func TestRecordsCodec(t *testing.T) {
	in := []datastore.Record{
		{"date": "2024-01-01", "status": "present", "count": float64(4)},
		{"date": "2024-01-02", "status": "absent", "count": float64(1), "note": nil},
	}
	b, err := Records{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Records{}.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %v want %v", got, in)
	}
}

func TestRecordsCodecRejectsNonJSONValues(t *testing.T) {
	if _, err := (Records{}).Encode([]datastore.Record{{"ch": make(chan int)}}); err == nil {
		t.Fatalf("expected error for unsupported value type")
	}
}

func TestLimitCodec(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("12345")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("Decode at limit: v=%q err=%v", v, err)
	}
	off := Limit[string]{Inner: String{}}
	if _, err := off.Decode([]byte(strings.Repeat("x", 1<<16))); err != nil {
		t.Fatalf("MaxDecode=0 should disable the limit: %v", err)
	}
}
