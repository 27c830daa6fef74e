package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/opscache/datastore"
)

// Protobuf stores generated protobuf messages.
type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message, e.g. func() *pb.Driver { return &pb.Driver{} }
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

// Records stores schema-less row sets as a google.protobuf.ListValue of Structs.
// Values must be JSON-like (strings, float64, bool, nil, nested maps and slices);
// numbers come back as float64.
type Records struct{}

var _ Codec[[]datastore.Record] = Records{}

func (Records) Encode(rs []datastore.Record) ([]byte, error) {
	items := make([]any, len(rs))
	for i, r := range rs {
		items[i] = map[string]any(r)
	}
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(lv)
}

func (Records) Decode(b []byte) ([]datastore.Record, error) {
	var lv structpb.ListValue
	if err := proto.Unmarshal(b, &lv); err != nil {
		return nil, err
	}
	out := make([]datastore.Record, 0, len(lv.GetValues()))
	for _, v := range lv.GetValues() {
		out = append(out, datastore.Record(v.GetStructValue().AsMap()))
	}
	return out, nil
}
