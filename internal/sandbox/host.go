package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

// httpFetchRequest/httpFetchResponse are the JSON shapes crossing the
// http_fetch host function, matching the "small JSON request/response" of
// the outbound HTTP capability.
type httpFetchRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type httpFetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// hostState is the per-instance state the "octabot" host module closures
// close over.
type hostState struct {
	pluginName string
	kv         *KVStore
	httpClient *http.Client
	start      time.Time
}

func memoryBytes(caller *wasmtime.Caller) []byte {
	export := caller.GetExport("memory")
	if export == nil || export.Memory() == nil {
		return nil
	}
	return export.Memory().UnsafeData(caller)
}

func readGuestString(caller *wasmtime.Caller, ptr, length uint32) string {
	data := memoryBytes(caller)
	if data == nil || uint64(ptr)+uint64(length) > uint64(len(data)) {
		return ""
	}
	return string(data[ptr : ptr+length])
}

// writeGuestString asks the guest's own "alloc" export for space, then
// copies s into it. The guest, not the host, owns its allocator, so every
// result-bearing host call re-enters the instance this way rather than
// writing into an address the host picked itself.
func writeGuestString(caller *wasmtime.Caller, hs *hostState, s string) (uint64, error) {
	allocExport := caller.GetExport("alloc")
	if allocExport == nil || allocExport.Func() == nil {
		return 0, fmt.Errorf("sandbox: guest module does not export alloc")
	}
	result, err := allocExport.Func().Call(caller, int32(len(s)))
	if err != nil {
		return 0, err
	}
	ptr, ok := result.(int32)
	if !ok {
		return 0, fmt.Errorf("sandbox: alloc did not return an i32 pointer")
	}

	data := memoryBytes(caller)
	if data == nil || uint64(ptr)+uint64(len(s)) > uint64(len(data)) {
		return 0, fmt.Errorf("sandbox: guest memory too small for alloc result")
	}
	copy(data[ptr:], s)
	return packPtrLen(uint32(ptr), uint32(len(s))), nil
}

// linkHostModule defines the "octabot" host import module: random bytes, a
// monotonic/wall clock pair, outbound HTTP, and the per-plugin key-value
// store. Every function that returns a string writes it into guest memory
// via the guest's own alloc export, so the guest controls its allocator.
func linkHostModule(linker *wasmtime.Linker, hs *hostState) error {
	if err := linker.FuncWrap("octabot", "rand_bytes",
		func(caller *wasmtime.Caller, ptr, length int32) int32 {
			data := memoryBytes(caller)
			if data == nil || int64(ptr)+int64(length) > int64(len(data)) {
				return -1
			}
			if _, err := rand.Read(data[ptr : ptr+length]); err != nil {
				return -1
			}
			return 0
		}); err != nil {
		return err
	}

	if err := linker.FuncWrap("octabot", "wall_clock_now_ms",
		func() int64 { return time.Now().UnixMilli() }); err != nil {
		return err
	}

	if err := linker.FuncWrap("octabot", "monotonic_now_ns",
		func() int64 { return time.Since(hs.start).Nanoseconds() }); err != nil {
		return err
	}

	if err := linker.FuncWrap("octabot", "http_fetch",
		func(caller *wasmtime.Caller, reqPtr, reqLen int32) int64 {
			raw := readGuestString(caller, uint32(reqPtr), uint32(reqLen))
			resp := doHTTPFetch(hs, raw)
			out, _ := json.Marshal(resp)
			packed, err := writeGuestString(caller, hs, string(out))
			if err != nil {
				return 0
			}
			return int64(packed)
		}); err != nil {
		return err
	}

	if err := linker.FuncWrap("octabot", "kv_get",
		func(caller *wasmtime.Caller, keyPtr, keyLen int32) int64 {
			key := readGuestString(caller, uint32(keyPtr), uint32(keyLen))
			value, ok, err := hs.kv.Get(context.Background(), hs.pluginName, key)
			if err != nil || !ok {
				return 0
			}
			packed, err := writeGuestString(caller, hs, value)
			if err != nil {
				return 0
			}
			return int64(packed)
		}); err != nil {
		return err
	}

	if err := linker.FuncWrap("octabot", "kv_set",
		func(caller *wasmtime.Caller, keyPtr, keyLen, valPtr, valLen int32) int32 {
			key := readGuestString(caller, uint32(keyPtr), uint32(keyLen))
			value := readGuestString(caller, uint32(valPtr), uint32(valLen))
			if err := hs.kv.Set(context.Background(), hs.pluginName, key, value, 0); err != nil {
				return -1
			}
			return 0
		}); err != nil {
		return err
	}

	if err := linker.FuncWrap("octabot", "kv_delete",
		func(caller *wasmtime.Caller, keyPtr, keyLen int32) int32 {
			key := readGuestString(caller, uint32(keyPtr), uint32(keyLen))
			if err := hs.kv.Delete(context.Background(), hs.pluginName, key); err != nil {
				return -1
			}
			return 0
		}); err != nil {
		return err
	}

	return nil
}

func doHTTPFetch(hs *hostState, rawRequest string) httpFetchResponse {
	var req httpFetchRequest
	if err := json.Unmarshal([]byte(rawRequest), &req); err != nil {
		return httpFetchResponse{Error: "parse-response: " + err.Error()}
	}

	httpReq, err := http.NewRequest(req.Method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return httpFetchResponse{Error: "send-http-request: " + err.Error()}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := hs.httpClient.Do(httpReq)
	if err != nil {
		return httpFetchResponse{Error: "send-http-request: " + err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return httpFetchResponse{Error: "parse-response: " + err.Error()}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return httpFetchResponse{Status: resp.StatusCode, Headers: headers, Body: string(body)}
}

