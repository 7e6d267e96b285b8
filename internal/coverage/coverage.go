// Package coverage owns the process-wide AFL-style edge coverage map: a
// single byte buffer shared by reference between the rewriter's
// instrumented canister (conceptually — the canister's own linear memory
// mirrors it) and the harness, which reads it back after every execution.
//
// The map is allocated exactly once per campaign (mirroring wazero's
// pattern of a single shared *wasm.MemoryInstance per store) and is never
// resized; lifecycle and single-threaded access are enforced by this
// package's API rather than a lock, per the single-threaded cooperative
// scheduling model the harness relies on.
package coverage

import "fmt"

// MapSize is the number of distinct edge buckets per history slot.
const MapSize = 65536

// ValidHistorySizes enumerates the only history_size values the rewriter
// accepts.
var ValidHistorySizes = map[int]bool{1: true, 2: true, 4: true, 8: true}

// Map is a saturating-byte hit-count buffer of length MapSize*HistorySize.
type Map struct {
	historySize int
	buf         []byte
}

// New allocates a coverage map for the given history size. Callers should
// construct exactly one Map per campaign and hold it for the campaign's
// lifetime.
func New(historySize int) (*Map, error) {
	if !ValidHistorySizes[historySize] {
		return nil, fmt.Errorf("coverage: invalid history size %d", historySize)
	}
	return &Map{
		historySize: historySize,
		buf:         make([]byte, MapSize*historySize),
	}, nil
}

// HistorySize returns the history size the map was constructed with.
func (m *Map) HistorySize() int { return m.historySize }

// Len returns MapSize*HistorySize, the invariant size of the buffer
// between resets (testable property 5).
func (m *Map) Len() int { return len(m.buf) }

// Bytes returns the live backing slice. Callers must not retain it across
// a Reset, since Reset zeroes in place rather than reallocating.
func (m *Map) Bytes() []byte { return m.buf }

// LoadFrom copies exactly Len() bytes from src into the map, replacing its
// contents. Used by the harness when the coverage-export call returns a
// fresh payload read from the canister's reply.
func (m *Map) LoadFrom(src []byte) error {
	if len(src) != len(m.buf) {
		return fmt.Errorf("coverage: payload length %d does not match map length %d", len(src), len(m.buf))
	}
	copy(m.buf, src)
	return nil
}

// Reset zeroes the map in place without reallocating, preserving the
// "never reallocated" lifecycle invariant.
func (m *Map) Reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
}

// EdgeCount returns the number of buckets with a nonzero hit count.
func (m *Map) EdgeCount() int {
	n := 0
	for _, b := range m.buf {
		if b != 0 {
			n++
		}
	}
	return n
}

// Bucket reports the hit count at a given 0-based edge key. Out-of-range
// keys report 0.
func (m *Map) Bucket(key int) byte {
	if key < 0 || key >= len(m.buf) {
		return 0
	}
	return m.buf[key]
}
