package gateway

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Text coerces a provider payload into its textual form.
//
// Strings pass through unchanged. Structured values are serialized to JSON so
// that decoding the result yields an equivalent value, even when they also
// implement fmt.Stringer. Values JSON cannot encode fall back to fmt.Sprint.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	case error:
		return t.Error()
	case proto.Message:
		if b, err := protojson.Marshal(t); err == nil {
			return string(b)
		}
	}

	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
