//go:build wasip1

// Package main is an example warden plugin. It fetches a URL through the
// host, stores the body under /tmp/fetch-cache and reports what it did.
//
// Build with: GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o fetch.wasm
package main

import (
	"encoding/json"
	"fmt"
	"unsafe"

	"github.com/reglet-dev/warden/wireformat"
)

//go:wasmimport warden_host http_request
func hostHTTPRequest(packed uint64) uint64

//go:wasmimport warden_host write_file
func hostWriteFile(packed uint64) uint64

//go:wasmimport warden_host get_env
func hostGetEnv(packed uint64) uint64

//go:wasmimport warden_host log_message
func hostLogMessage(packed uint64)

// allocations keeps a reference to allocated memory to prevent the GC from collecting it.
// This effectively "pins" the memory until the host explicitly releases it.
var allocations = make(map[uint32][]byte)

// allocate reserves memory the host writes responses into.
//
//go:wasmexport allocate
func allocate(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	allocations[ptr] = buf
	return ptr
}

// deallocate frees memory by removing the reference, allowing the GC to collect it.
//
//go:wasmexport deallocate
func deallocate(ptr uint32, _ uint32) {
	delete(allocations, ptr)
}

type fetchInput struct {
	URL   string `json:"url"`
	Cache string `json:"cache,omitempty"`
}

type fetchOutput struct {
	Status int    `json:"status,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
	Cached string `json:"cached,omitempty"`
	Error  string `json:"error,omitempty"`
}

// fetch takes a JSON fetchInput and returns a packed pointer to a JSON fetchOutput.
//
//go:wasmexport fetch
func fetch(ptr, size uint32) uint64 {
	var in fetchInput
	if err := json.Unmarshal(readMemory(ptr, size), &in); err != nil {
		return result(fetchOutput{Error: fmt.Sprintf("invalid input: %v", err)})
	}

	headers := map[string][]string{}
	var ua wireformat.EnvResponseWire
	call(hostGetEnv, wireformat.EnvRequestWire{Name: "FETCH_USER_AGENT"}, &ua)
	if ua.Present {
		headers["User-Agent"] = []string{ua.Value}
	}

	var resp wireformat.HTTPResponseWire
	call(hostHTTPRequest, wireformat.HTTPRequestWire{Method: "GET", URL: in.URL, Headers: headers}, &resp)
	if resp.Error != nil {
		logf(1, "fetch %s failed: %s", in.URL, resp.Error.Kind)
		return result(fetchOutput{Error: resp.Error.Error()})
	}
	out := fetchOutput{Status: resp.StatusCode, Bytes: len(resp.Body)}

	if in.Cache != "" {
		path := "/tmp/fetch-cache/" + in.Cache
		var wr wireformat.WriteFileResponseWire
		call(hostWriteFile, wireformat.WriteFileRequestWire{Path: path, Content: resp.Body}, &wr)
		if wr.Error != nil {
			out.Error = wr.Error.Error()
		} else {
			out.Cached = path
		}
	}

	logf(2, "fetched %s: %d (%d bytes)", in.URL, out.Status, out.Bytes)
	return result(out)
}

// call sends req to a host function and decodes its response into resp.
func call(fn func(uint64) uint64, req, resp any) {
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	ptr := writeMemory(data)
	defer deallocate(ptr, uint32(len(data)))

	packed := fn(uint64(ptr)<<32 | uint64(len(data)))
	rptr, rlen := uint32(packed>>32), uint32(packed)
	if rptr == 0 {
		return
	}
	defer deallocate(rptr, rlen)
	_ = json.Unmarshal(readMemory(rptr, rlen), resp)
}

func logf(level int, format string, args ...any) {
	data, err := json.Marshal(wireformat.LogMessageWire{Level: level, Message: fmt.Sprintf(format, args...)})
	if err != nil {
		return
	}
	ptr := writeMemory(data)
	defer deallocate(ptr, uint32(len(data)))
	hostLogMessage(uint64(ptr)<<32 | uint64(len(data)))
}

func result(v fetchOutput) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	// The host reads the result and then calls deallocate.
	return uint64(writeMemory(data))<<32 | uint64(len(data))
}

func writeMemory(data []byte) uint32 {
	ptr := allocate(uint32(len(data)))
	if ptr == 0 {
		return 0
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(data)), data)
	return ptr
}

func readMemory(ptr, size uint32) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), size)
	data := make([]byte, size)
	copy(data, src)
	return data
}

func main() {}
