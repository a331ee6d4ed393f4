package wasm

// A tiny assembler for the hand-built guests used in these tests.

const (
	i32 = 0x7f
	i64 = 0x7e
)

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

func memorySection(minPages uint64) []byte {
	return section(5, vec(append([]byte{0x00}, uleb(minPages)...)))
}

// budgetModule exports:
//
//	spin:   loops forever calling an empty function
//	answer: returns 42
//	busy:   loops forever without calls
//	grow:   grows memory one page at a time until refused, then traps
//	trap:   hits unreachable
func budgetModule(minPages uint64) []byte {
	return module(
		section(1, vec(
			funcType(nil, nil),
			funcType(nil, []byte{i32}),
		)),
		section(3, vec([]byte{0}, []byte{0}, []byte{1}, []byte{0}, []byte{0}, []byte{0})),
		memorySection(minPages),
		section(7, vec(
			export("spin", 0x00, 1),
			export("answer", 0x00, 2),
			export("busy", 0x00, 3),
			export("grow", 0x00, 4),
			export("trap", 0x00, 5),
			export("memory", 0x02, 0),
		)),
		section(10, vec(
			code(0x0b),
			code(0x03, 0x40, 0x10, 0x00, 0x0c, 0x00, 0x0b, 0x0b),
			code(0x41, 0x2a, 0x0b),
			code(0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b),
			code(0x03, 0x40, 0x41, 0x01, 0x40, 0x00, 0x41, 0x7f, 0x47, 0x0d, 0x00, 0x0b, 0x00, 0x0b),
			code(0x00, 0x0b),
		)),
	)
}

const envRequest = `{"name":"APP_MODE"}`

// abiModule talks to the host through the packed ptr+len ABI. It exports a
// bump allocator, "env" which forwards a request stored at offset 0 to
// get_env, and "echo" which returns its input.
func abiModule() []byte {
	return module(
		section(1, vec(
			funcType([]byte{i64}, []byte{i64}),
			funcType([]byte{i32}, []byte{i32}),
			funcType(nil, []byte{i64}),
			funcType([]byte{i32, i32}, []byte{i64}),
		)),
		section(2, vec(
			append(append(name("warden_host"), name("get_env")...), 0x00, 0x00),
		)),
		section(3, vec([]byte{1}, []byte{2}, []byte{3})),
		memorySection(1),
		section(6, vec([]byte{i32, 0x01, 0x41, 0x80, 0x08, 0x0b})),
		section(7, vec(
			export("allocate", 0x00, 1),
			export("env", 0x00, 2),
			export("echo", 0x00, 3),
			export("memory", 0x02, 0),
		)),
		section(10, vec(
			code(0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00, 0x0b),
			code(0x42, byte(len(envRequest)), 0x10, 0x00, 0x0b),
			code(0x20, 0x00, 0xad, 0x42, 0x20, 0x86, 0x20, 0x01, 0xad, 0x84, 0x0b),
		)),
		section(11, vec(
			append([]byte{0x00, 0x41, 0x00, 0x0b}, name(envRequest)...),
		)),
	)
}
