package integration

// Minimal WebAssembly binary encoder for hand-built guests.

const (
	i32 = 0x7f
	i64 = 0x7e
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// sleb encodes the immediates of i32.const and i64.const.
func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func section(id byte, body []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func funcType(params, results []byte) []byte {
	out := append([]byte{0x60}, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	return append(out, results...)
}

// code is a function body without locals.
func code(instrs ...byte) []byte {
	b := append([]byte{0x00}, instrs...)
	return append(uleb(uint64(len(b))), b...)
}

func export(n string, kind byte, idx uint64) []byte {
	return append(append(name(n), kind), uleb(idx)...)
}

func module(sections ...[]byte) []byte {
	out := append([]byte(nil), wasmHeader...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}
