package wasm

import (
	"errors"
	"fmt"
)

// ErrTableLimit is returned when a module declares a table larger than the
// plugin's element budget.
var ErrTableLimit = errors.New("table exceeds element limit")

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const tableSectionID = 4

type tableLimits struct {
	min    uint64
	max    uint64
	hasMax bool
}

// checkTables rejects modules whose declared tables could exceed limit
// elements. wazero bounds table.grow by the declared maximum, so a table
// without one is refused as well.
func checkTables(module []byte, limit uint32) error {
	tables, err := declaredTables(module)
	if err != nil {
		return fmt.Errorf("invalid module: %w", err)
	}
	for i, t := range tables {
		switch {
		case t.min > uint64(limit):
			return fmt.Errorf("%w: table %d declares %d initial elements, limit is %d", ErrTableLimit, i, t.min, limit)
		case !t.hasMax:
			return fmt.Errorf("%w: table %d has no maximum, limit is %d", ErrTableLimit, i, limit)
		case t.max > uint64(limit):
			return fmt.Errorf("%w: table %d declares up to %d elements, limit is %d", ErrTableLimit, i, t.max, limit)
		}
	}
	return nil
}

// declaredTables returns the limits from the module's table section.
func declaredTables(module []byte) ([]tableLimits, error) {
	sections, err := splitSections(module)
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		if s.id == tableSectionID {
			return parseTableSection(s.body)
		}
	}
	return nil, nil
}

func parseTableSection(body []byte) ([]tableLimits, error) {
	r := &byteReader{data: body}
	count, err := r.uleb(32)
	if err != nil {
		return nil, fmt.Errorf("table count: %w", err)
	}

	tables := make([]tableLimits, 0, min(count, 64))
	for i := uint64(0); i < count; i++ {
		if _, err := r.byte(); err != nil { // reftype
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		flags, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		var t tableLimits
		if t.min, err = r.uleb(64); err != nil {
			return nil, fmt.Errorf("table %d min: %w", i, err)
		}
		if flags&0x01 != 0 {
			t.hasMax = true
			if t.max, err = r.uleb(64); err != nil {
				return nil, fmt.Errorf("table %d max: %w", i, err)
			}
		}
		tables = append(tables, t)
	}
	return tables, nil
}

type byteReader struct {
	data []byte
	pos  int
}

var errTruncated = errors.New("unexpected end of module")

func (r *byteReader) done() bool {
	return r.pos >= len(r.data)
}

func (r *byteReader) byte() (byte, error) {
	if r.done() {
		return 0, errTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.data)-r.pos) {
		return nil, errTruncated
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// uleb reads an unsigned LEB128 value of at most bits bits.
func (r *byteReader) uleb(bits uint) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if shift >= bits || (shift+7 > bits && b&0x7f>>(bits-shift) != 0) {
			return 0, errors.New("leb128 overflow")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// skipLEB skips one LEB128 value of either signedness.
func (r *byteReader) skipLEB() error {
	for range 10 {
		b, err := r.byte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return errors.New("leb128 overflow")
}

// skipULEBs skips n unsigned 32-bit LEB128 values.
func (r *byteReader) skipULEBs(n uint64) error {
	for i := uint64(0); i < n; i++ {
		if _, err := r.uleb(32); err != nil {
			return err
		}
	}
	return nil
}
