// Package errors defines the stable error vocabulary shared across the
// gatekeeper core and its transport layer.
package errors

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Code is a stable error code. Once published, codes are treated as API-stable.
// Code implements error so it can be used directly as a %w-wrapped sentinel
// (e.g. fmt.Errorf("%w: signature store is required", InvalidInput)) and
// matched with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

// CodeMeta provides metadata useful for HTTP mapping, retry decisions, and documentation.
type CodeMeta struct {
	HTTPStatus  int    `json:"http_status"`
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"` // client|server|dependency
	Description string `json:"description"`
}

// ---- the six kinds from §7 of the core spec ----
const (
	InvalidInput     Code = "gatekeeper.invalid_input"
	ParseError       Code = "gatekeeper.parse_error"
	StorageError     Code = "gatekeeper.storage_error"
	CorruptSignature Code = "gatekeeper.corrupt_signature"
	LengthMismatch   Code = "gatekeeper.length_mismatch"
	Internal         Code = "gatekeeper.internal"
)

var registry = map[Code]CodeMeta{
	InvalidInput:     {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "specification or parameter is invalid"},
	ParseError:       {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "specification failed to parse as json or yaml"},
	StorageError:     {HTTPStatus: 503, Retryable: true, Kind: "dependency", Description: "signature store operation failed"},
	CorruptSignature: {HTTPStatus: 500, Retryable: false, Kind: "server", Description: "stored signature bytes are not a valid signature"},
	LengthMismatch:   {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "signature length does not match the configured width"},
	Internal:         {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "internal error"},
}

// Meta returns metadata for a code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}

// Known reports whether code is a recognized code.
func Known(code Code) bool {
	_, ok := registry[code]
	return ok
}

// List returns all known codes sorted.
func List() []Code {
	out := make([]Code, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportJSON returns stable JSON of all codes + meta, for diagnostics and the SDK.
func ExportJSON() []byte {
	type row struct {
		Code Code     `json:"code"`
		Meta CodeMeta `json:"meta"`
	}
	codes := List()
	rows := make([]row, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, row{Code: c, Meta: registry[c]})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return []byte("[]")
	}
	var buf bytes.Buffer
	_, _ = buf.Write(b)
	return buf.Bytes()
}
