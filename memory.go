package concolic

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Memory represents the symbolic contents of the program's address space.
// Addresses without an entry hold whatever concrete value the program has.
//
// Entries never overlap. Every stored expression is exclusively owned by the
// memory; reads return copies.
type Memory struct {
	entries *immutable.SortedMap // uint64 -> *memoryEntry
}

type memoryEntry struct {
	Type Type
	Expr Expr
}

// size returns the number of bytes covered by the entry.
func (e *memoryEntry) size() uint {
	return e.Type.Size()
}

// NewMemory returns a new, fully concrete instance of Memory.
func NewMemory() *Memory {
	return &Memory{entries: immutable.NewSortedMap(&uint64Comparer{})}
}

// Len returns the number of symbolic entries.
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Clone returns a deep copy of m. No expression is shared between the two.
func (m *Memory) Clone() *Memory {
	other := NewMemory()
	m.ForEach(func(addr uint64, typ Type, expr Expr) {
		other.entries = other.entries.Set(addr, &memoryEntry{Type: typ, Expr: Clone(expr)})
	})
	return other
}

// Read returns the expression for a value of type typ at addr. If no symbolic
// entry covers the value, a constant built from fallback is returned. A read
// of a different width than the stored entry is supported only when it lies
// entirely inside that entry, or when a wider integer is read over a bool.
func (m *Memory) Read(addr uint64, typ Type, fallback int64) Expr {
	assert(typ.IsScalar(), "read: invalid type: %s", typ)

	base, entry := m.findEntryContainingAddr(addr)
	if entry == nil || !m.onlyEntryIn(base, addr, typ.Size()) {
		return NewConstantExpr(typ, fallback)
	}

	offset := uint(addr - base)
	switch {
	case offset == 0 && typ.Size() == entry.size():
		return NewUnaryExpr(CAST, typ, Clone(entry.Expr))
	case offset+typ.Size() <= entry.size():
		return NewExtractExpr(Clone(entry.Expr), offset, typ)
	case offset == 0 && entry.Type == TypeBool:
		// Comparison results stored as bool and reloaded as a C int zero-extend.
		return NewUnaryExpr(CAST, typ, Clone(entry.Expr))
	default:
		return NewConstantExpr(typ, fallback)
	}
}

// ReadAggregate returns the symbolic contents of the size bytes at addr as a
// ConcatExpr. Returns nil if the range is fully concrete. Returns false if an
// entry straddles either boundary of the range.
func (m *Memory) ReadAggregate(addr uint64, size uint) (*ConcatExpr, bool) {
	var parts []ConcatPart
	ok := true
	m.forEachOverlapping(addr, size, func(key uint64, entry *memoryEntry) {
		if key < addr || key+uint64(entry.size()) > addr+uint64(size) {
			ok = false
			return
		}
		parts = append(parts, ConcatPart{Offset: uint(key - addr), Expr: Clone(entry.Expr)})
	})

	if !ok {
		return nil, false
	} else if len(parts) == 0 {
		return nil, true
	}
	return NewConcatExpr(size, parts), true
}

// Write stores expr as the value of type typ at addr and takes ownership of
// it. Entries overlapping the written range are removed. A ConcatExpr is
// stored as its individual parts and a concrete expression only clears the
// range.
func (m *Memory) Write(addr uint64, typ Type, expr Expr) {
	if concat, ok := expr.(*ConcatExpr); ok {
		m.Concretize(addr, concat.Size)
		for _, part := range concat.Parts {
			m.Write(addr+uint64(part.Offset), ExprType(part.Expr), part.Expr)
		}
		return
	}

	assert(typ.IsScalar(), "write: invalid type: %s", typ)
	m.Concretize(addr, typ.Size())
	if expr == nil || IsConcrete(expr) {
		return
	}
	m.entries = m.entries.Set(addr, &memoryEntry{Type: typ, Expr: NewUnaryExpr(CAST, typ, expr)})
}

// Concretize removes every entry that overlaps [addr, addr+n).
func (m *Memory) Concretize(addr uint64, n uint) {
	var keys []uint64
	m.forEachOverlapping(addr, n, func(key uint64, _ *memoryEntry) {
		keys = append(keys, key)
	})
	for _, key := range keys {
		m.entries = m.entries.Delete(key)
	}
}

// ForEach executes fn for every entry in address order.
func (m *Memory) ForEach(fn func(addr uint64, typ Type, expr Expr)) {
	itr := m.entries.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		entry := v.(*memoryEntry)
		fn(k.(uint64), entry.Type, entry.Expr)
	}
}

// Dump returns the contents of memory as a string.
func (m *Memory) Dump() string {
	var buf bytes.Buffer
	m.ForEach(func(addr uint64, typ Type, expr Expr) {
		fmt.Fprintf(&buf, "%016x %-9s %s\n", addr, typ, expr)
	})
	return buf.String()
}

// findEntryContainingAddr returns the entry whose range includes addr.
func (m *Memory) findEntryContainingAddr(addr uint64) (base uint64, entry *memoryEntry) {
	// Seek to the given address or the next available address.
	itr := m.entries.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}

	// Move backwards until address range too low.
	for !itr.Done() {
		k, v := itr.Prev()
		key, value := k.(uint64), v.(*memoryEntry)

		if addr >= key && addr < key+uint64(value.size()) {
			return key, value
		} else if key < addr {
			break // entries do not overlap, so nothing below can contain addr
		}
	}
	return 0, nil
}

// onlyEntryIn returns true if the entry at base is the only entry overlapping [addr, addr+n).
func (m *Memory) onlyEntryIn(base, addr uint64, n uint) bool {
	only := true
	m.forEachOverlapping(addr, n, func(key uint64, _ *memoryEntry) {
		if key != base {
			only = false
		}
	})
	return only
}

// forEachOverlapping executes fn for every entry overlapping [addr, addr+n) in address order.
func (m *Memory) forEachOverlapping(addr uint64, n uint, fn func(key uint64, entry *memoryEntry)) {
	if n == 0 {
		return
	}
	end := addr + uint64(n)

	if key, entry := m.findEntryContainingAddr(addr); entry != nil && key < addr {
		fn(key, entry)
	}

	itr := m.entries.Iterator()
	itr.Seek(addr)
	for !itr.Done() {
		k, v := itr.Next()
		key := k.(uint64)
		if key >= end {
			return
		}
		fn(key, v.(*memoryEntry))
	}
}

// BitBlast lowers the symbolic value stored at addr. Returns false if the
// value at addr is concrete.
func BitBlast[T any](b TermBuilder[T], m *Memory, addr uint64, decls map[VarID]T) (T, bool, error) {
	var zero T
	v, ok := m.entries.Get(addr)
	if !ok {
		return zero, false, nil
	}

	term, err := Lower(b, v.(*memoryEntry).Expr, decls)
	if err != nil {
		return zero, true, err
	}
	return term, true, nil
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
