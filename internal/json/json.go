// Package json re-exports the subset of encoding/json's API the converters
// use, backed by bytedance/sonic's standard-library-compatible config. The
// outbound from_ir converters marshal one JSON payload per streamed token on
// a hot path; sonic's compiled encoder is faster there than encoding/json
// without changing any call site's signature.
package json

import "github.com/bytedance/sonic"

var std = sonic.ConfigStd

// Marshal mirrors encoding/json.Marshal.
func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

// Unmarshal mirrors encoding/json.Unmarshal.
func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid mirrors encoding/json.Valid.
func Valid(data []byte) bool {
	return std.Valid(data)
}
