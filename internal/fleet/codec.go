package fleet

import (
	"fmt"

	"github.com/unkn0wn-root/opscache/codec"
)

// CodecFor returns the value codec called name (json, cbor or msgpack),
// bounded by maxDecode bytes when maxDecode > 0.
func CodecFor[V any](name string, maxDecode int) (codec.Codec[V], error) {
	var c codec.Codec[V]
	switch name {
	case "", "json":
		c = codec.JSON[V]{}
	case "cbor":
		cb, err := codec.NewCBOR[V](true)
		if err != nil {
			return nil, err
		}
		c = cb
	case "msgpack":
		c = codec.Msgpack[V]{}
	default:
		return nil, fmt.Errorf("fleet: unknown codec %q", name)
	}
	if maxDecode > 0 {
		c = codec.Limit[V]{Inner: c, MaxDecode: maxDecode}
	}
	return c, nil
}
