package codec

import "encoding/json"

// JSON uses encoding/json. Struct json tags apply, which keeps cached rows in
// the same shape as the data store returns them.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
