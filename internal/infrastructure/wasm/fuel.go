package wasm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
)

// Fuel costs. Every unbounded execution path in wasm goes through a loop
// back-edge or a call, so charging both bounds the work of an invocation
// independently of the wall clock.
const (
	// FuelPerCall is charged each time the guest enters a function.
	FuelPerCall uint64 = 1_000
	// FuelPerIteration is charged each time a loop body starts.
	FuelPerIteration uint64 = 10
)

// fuelGlobalExport names the counter global injected into every guest.
const fuelGlobalExport = "__warden_fuel"

const (
	sectionCustom = 0
	sectionImport = 2
	sectionGlobal = 6
	sectionExport = 7
	sectionCode   = 10
)

// sectionOrder ranks non-custom sections by their required position.
var sectionOrder = map[byte]int{
	1: 1, 2: 2, 3: 3, 4: 4, 5: 5, 13: 6, 6: 7, 7: 8, 8: 9, 9: 10, 12: 11, 10: 12, 11: 13,
}

type rawSection struct {
	id   byte
	body []byte
}

// splitSections returns the module's sections in order.
func splitSections(module []byte) ([]rawSection, error) {
	if len(module) < len(wasmHeader) || string(module[:len(wasmHeader)]) != string(wasmHeader) {
		return nil, errors.New("missing wasm header")
	}
	r := &byteReader{data: module, pos: len(wasmHeader)}

	var sections []rawSection
	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.uleb(32)
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		body, err := r.bytes(size)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		sections = append(sections, rawSection{id: id, body: body})
	}
	return sections, nil
}

// meterFuel rewrites module so the guest pays for its own execution. A
// mutable i64 global, initialized to budget and exported as
// fuelGlobalExport, is decremented at every function entry and loop head;
// once it drops below zero the guest hits unreachable. The global is
// appended after the existing ones, so no index in the module shifts.
func meterFuel(module []byte, budget uint64) ([]byte, error) {
	if budget > math.MaxInt64 {
		return nil, fmt.Errorf("fuel budget %d is too large", budget)
	}
	sections, err := splitSections(module)
	if err != nil {
		return nil, fmt.Errorf("invalid module: %w", err)
	}

	var globals uint64
	for _, s := range sections {
		switch s.id {
		case sectionImport:
			n, err := countImportedGlobals(s.body)
			if err != nil {
				return nil, fmt.Errorf("invalid import section: %w", err)
			}
			globals += n
		case sectionGlobal:
			n, err := (&byteReader{data: s.body}).uleb(32)
			if err != nil {
				return nil, fmt.Errorf("invalid global section: %w", err)
			}
			globals += n
		}
	}
	if globals >= math.MaxUint32 {
		return nil, errors.New("too many globals")
	}
	fuel := globals

	counter := append([]byte{i64Type, 0x01, opI64Const}, appendSLEB(nil, int64(budget))...) //nolint:gosec // G115: checked above
	counter = append(counter, opEnd)
	exportEntry := append(appendName(nil, fuelGlobalExport), externGlobal)
	exportEntry = appendULEB(exportEntry, fuel)

	out := append(make([]byte, 0, len(module)+len(module)/8+64), wasmHeader...)
	emit := func(id byte, body []byte) {
		out = append(out, id)
		out = appendULEB(out, uint64(len(body)))
		out = append(out, body...)
	}

	var globalDone, exportDone bool
	// flush emits the injected sections that must precede a section of rank.
	flush := func(rank int) {
		if !globalDone && rank > sectionOrder[sectionGlobal] {
			emit(sectionGlobal, append(appendULEB(nil, 1), counter...))
			globalDone = true
		}
		if !exportDone && rank > sectionOrder[sectionExport] {
			emit(sectionExport, append(appendULEB(nil, 1), exportEntry...))
			exportDone = true
		}
	}

	for _, s := range sections {
		if s.id == sectionCustom {
			emit(s.id, s.body)
			continue
		}
		rank, ok := sectionOrder[s.id]
		if !ok {
			return nil, fmt.Errorf("invalid module: unknown section %d", s.id)
		}
		flush(rank)

		switch s.id {
		case sectionGlobal:
			body, err := appendVecEntry(s.body, counter)
			if err != nil {
				return nil, fmt.Errorf("invalid global section: %w", err)
			}
			emit(s.id, body)
			globalDone = true
		case sectionExport:
			body, err := appendVecEntry(s.body, exportEntry)
			if err != nil {
				return nil, fmt.Errorf("invalid export section: %w", err)
			}
			emit(s.id, body)
			exportDone = true
		case sectionCode:
			body, err := meterCode(s.body, fuel)
			if err != nil {
				return nil, fmt.Errorf("invalid code section: %w", err)
			}
			emit(s.id, body)
		default:
			emit(s.id, s.body)
		}
	}
	flush(math.MaxInt)

	return out, nil
}

// fuelCounter is the guest global the metered code decrements.
type fuelCounter interface {
	Get() uint64
	Set(v uint64)
}

// FuelMeter is the fuel budget of one invocation, kept in the guest's
// counter global. Invocations of a plugin are serialized, so it needs no
// locking.
type FuelMeter struct {
	budget  uint64
	counter fuelCounter
}

// attach refills the instance's counter with the invocation's budget.
func (m *FuelMeter) attach(mod api.Module) error {
	counter, ok := mod.ExportedGlobal(fuelGlobalExport).(api.MutableGlobal)
	if !ok {
		return errors.New("instance has no fuel counter")
	}
	m.counter = counter
	m.counter.Set(m.budget)
	return nil
}

// Consumed returns the fuel spent so far.
func (m *FuelMeter) Consumed() uint64 {
	if m == nil || m.counter == nil {
		return 0
	}
	left := int64(m.counter.Get()) //nolint:gosec // G115: the counter is an i64
	if left <= 0 {
		return m.budget
	}
	return m.budget - uint64(left)
}

// Exhausted reports whether the guest ran past its budget.
func (m *FuelMeter) Exhausted() bool {
	return m != nil && m.counter != nil && int64(m.counter.Get()) < 0 //nolint:gosec // G115: the counter is an i64
}

// Opcodes and encodings the metering code emits or inspects.
const (
	i64Type      = 0x7e
	externGlobal = 0x03
	blockEmpty   = 0x40

	opUnreachable = 0x00
	opLoop        = 0x03
	opIf          = 0x04
	opEnd         = 0x0b
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI64Const    = 0x42
	opI64LtS      = 0x53
	opI64Sub      = 0x7d
)

// fuelTick charges cost against the counter global and traps below zero.
// It leaves the operand stack as it found it.
func fuelTick(global, cost uint64) []byte {
	idx := appendULEB(nil, global)
	b := append([]byte{opGlobalGet}, idx...)
	b = append(b, opI64Const)
	b = appendSLEB(b, int64(cost)) //nolint:gosec // G115: costs are small constants
	b = append(b, opI64Sub, opGlobalSet)
	b = append(b, idx...)
	b = append(b, opGlobalGet)
	b = append(b, idx...)
	return append(b, opI64Const, 0x00, opI64LtS, opIf, blockEmpty, opUnreachable, opEnd)
}

// meterCode charges every function body in a code section.
func meterCode(body []byte, fuel uint64) ([]byte, error) {
	r := &byteReader{data: body}
	count, err := r.uleb(32)
	if err != nil {
		return nil, err
	}

	callTick := fuelTick(fuel, FuelPerCall)
	loopTick := fuelTick(fuel, FuelPerIteration)

	out := appendULEB(make([]byte, 0, len(body)+len(body)/4), count)
	for i := uint64(0); i < count; i++ {
		size, err := r.uleb(32)
		if err != nil {
			return nil, fmt.Errorf("function %d size: %w", i, err)
		}
		fn, err := r.bytes(size)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		metered, err := meterFunction(fn, fuel, callTick, loopTick)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		out = appendULEB(out, uint64(len(metered)))
		out = append(out, metered...)
	}
	if !r.done() {
		return nil, errors.New("trailing bytes after function bodies")
	}
	return out, nil
}

func meterFunction(fn []byte, fuel uint64, callTick, loopTick []byte) ([]byte, error) {
	r := &byteReader{data: fn}
	groups, err := r.uleb(32)
	if err != nil {
		return nil, fmt.Errorf("locals: %w", err)
	}
	for g := uint64(0); g < groups; g++ {
		if _, err := r.uleb(32); err != nil {
			return nil, fmt.Errorf("locals: %w", err)
		}
		if _, err := r.byte(); err != nil {
			return nil, fmt.Errorf("locals: %w", err)
		}
	}

	out := make([]byte, 0, len(fn)+len(callTick)+len(loopTick)*4)
	out = append(out, fn[:r.pos]...)
	out = append(out, callTick...)

	for !r.done() {
		start := r.pos
		op, _ := r.byte()
		if err := skipImmediates(r, op, fuel); err != nil {
			return nil, fmt.Errorf("offset %d: %w", start, err)
		}
		out = append(out, fn[start:r.pos]...)
		if op == opLoop {
			out = append(out, loopTick...)
		}
	}
	return out, nil
}

// skipImmediates advances r past the immediates of op. Guest code may not
// touch the counter global, which did not exist when it was written.
func skipImmediates(r *byteReader, op byte, fuel uint64) error {
	switch {
	case op >= 0x45 && op <= 0xc4: // numeric
		return nil
	case op >= 0x28 && op <= 0x3e: // loads and stores
		return skipMemarg(r)
	}

	switch op {
	case 0x00, 0x01, 0x05, 0x0b, 0x0f, 0x1a, 0x1b, 0xd1:
		return nil
	case 0x02, 0x03, 0x04, 0x41, 0x42, 0xd0: // block types, signed constants, heap types
		return r.skipLEB()
	case 0x0c, 0x0d, 0x10, 0x12, 0x20, 0x21, 0x22, 0x25, 0x26, 0x3f, 0x40, 0xd2:
		return r.skipULEBs(1)
	case 0x11, 0x13:
		return r.skipULEBs(2)
	case 0x0e: // br_table
		n, err := r.uleb(32)
		if err != nil {
			return err
		}
		return r.skipULEBs(n + 1)
	case 0x1c: // typed select
		n, err := r.uleb(32)
		if err != nil {
			return err
		}
		_, err = r.bytes(n)
		return err
	case opGlobalGet, opGlobalSet:
		idx, err := r.uleb(32)
		if err != nil {
			return err
		}
		if idx >= fuel {
			return fmt.Errorf("global %d is not declared", idx)
		}
		return nil
	case 0x43:
		_, err := r.bytes(4)
		return err
	case 0x44:
		_, err := r.bytes(8)
		return err
	case 0xfc:
		return skipMiscOp(r)
	case 0xfd:
		return skipVectorOp(r)
	case 0xfe:
		return skipAtomicOp(r)
	}
	return fmt.Errorf("unsupported opcode 0x%02x", op)
}

func skipMemarg(r *byteReader) error {
	align, err := r.uleb(32)
	if err != nil {
		return err
	}
	if align&0x40 != 0 { // explicit memory index
		if _, err := r.uleb(32); err != nil {
			return err
		}
	}
	_, err = r.uleb(64)
	return err
}

// skipMiscOp handles the 0xfc prefix: saturating truncation, bulk memory
// and table operations.
func skipMiscOp(r *byteReader) error {
	sub, err := r.uleb(32)
	if err != nil {
		return err
	}
	switch {
	case sub <= 7:
		return nil
	case sub == 9 || sub == 11 || sub == 13 || (sub >= 15 && sub <= 17):
		return r.skipULEBs(1)
	case sub == 8 || sub == 10 || sub == 12 || sub == 14:
		return r.skipULEBs(2)
	}
	return fmt.Errorf("unsupported opcode 0xfc %d", sub)
}

// skipVectorOp handles the 0xfd prefix.
func skipVectorOp(r *byteReader) error {
	sub, err := r.uleb(32)
	if err != nil {
		return err
	}
	switch {
	case sub <= 11, sub == 92, sub == 93: // loads and stores
		return skipMemarg(r)
	case sub == 12, sub == 13: // v128.const, i8x16.shuffle
		_, err := r.bytes(16)
		return err
	case sub >= 21 && sub <= 34: // lane access
		_, err := r.byte()
		return err
	case sub >= 84 && sub <= 91: // lane loads and stores
		if err := skipMemarg(r); err != nil {
			return err
		}
		_, err := r.byte()
		return err
	case sub <= 0x113:
		return nil
	}
	return fmt.Errorf("unsupported opcode 0xfd %d", sub)
}

// skipAtomicOp handles the 0xfe prefix.
func skipAtomicOp(r *byteReader) error {
	sub, err := r.uleb(32)
	if err != nil {
		return err
	}
	switch {
	case sub == 3: // atomic.fence
		_, err := r.byte()
		return err
	case sub <= 0x4e:
		return skipMemarg(r)
	}
	return fmt.Errorf("unsupported opcode 0xfe %d", sub)
}

// countImportedGlobals counts the global imports in an import section.
func countImportedGlobals(body []byte) (uint64, error) {
	r := &byteReader{data: body}
	count, err := r.uleb(32)
	if err != nil {
		return 0, err
	}

	var globals uint64
	for i := uint64(0); i < count; i++ {
		for range 2 { // module and field names
			n, err := r.uleb(32)
			if err != nil {
				return 0, err
			}
			if _, err := r.bytes(n); err != nil {
				return 0, err
			}
		}
		kind, err := r.byte()
		if err != nil {
			return 0, err
		}
		switch kind {
		case 0x00: // function
			err = r.skipULEBs(1)
		case 0x01: // table
			if _, err = r.byte(); err == nil {
				err = skipLimits(r)
			}
		case 0x02: // memory
			err = skipLimits(r)
		case externGlobal:
			_, err = r.bytes(2)
			globals++
		case 0x04: // tag
			if _, err = r.byte(); err == nil {
				err = r.skipULEBs(1)
			}
		default:
			err = fmt.Errorf("import %d has unknown kind %d", i, kind)
		}
		if err != nil {
			return 0, err
		}
	}
	return globals, nil
}

func skipLimits(r *byteReader) error {
	flags, err := r.byte()
	if err != nil {
		return err
	}
	if _, err := r.uleb(64); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		_, err = r.uleb(64)
	}
	return err
}

// appendVecEntry adds entry to the vector encoded in body.
func appendVecEntry(body, entry []byte) ([]byte, error) {
	r := &byteReader{data: body}
	count, err := r.uleb(32)
	if err != nil {
		return nil, err
	}
	out := appendULEB(make([]byte, 0, len(body)+len(entry)+5), count+1)
	out = append(out, body[r.pos:]...)
	return append(out, entry...), nil
}

func appendName(b []byte, name string) []byte {
	b = appendULEB(b, uint64(len(name)))
	return append(b, name...)
}

func appendULEB(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
