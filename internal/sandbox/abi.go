package sandbox

import "encoding/json"

// A guest export that returns a string packs it into a single i64: the high
// 32 bits are the byte offset into the guest's linear memory, the low 32
// bits are the length. This avoids needing multi-value returns or an extra
// guest export just to report a length, at the cost of a 4 GiB per-string
// ceiling the plugin ABI never approaches in practice.
func packPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackPtrLen(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

// guestResult is the envelope every load/init/process export serializes as
// its returned string: either Ok holds the call's JSON payload, or Err holds
// the tagged error variant described in the plugin error taxonomy.
type guestResult struct {
	Ok  json.RawMessage `json:"ok,omitempty"`
	Err *guestError     `json:"err,omitempty"`
}

type guestError struct {
	Variant string `json:"variant"`
	Message string `json:"message"`
}
