// Package physmem models the byte-addressable contents of physical
// frames. Real hardware memory isn't available to a host-process
// simulation, so this stands in for it: a flat byte slice indexed by
// frame number and in-page offset, used by the page-table walker's
// Copy-range (spec.md §4.2), the page-fault resolver's demand-paged
// pages, and the page-replacement engine's swap payloads (spec.md §4.5).
package physmem

import "github.com/ucore-lineage/ucore/internal/mm/memlayout"

// Memory is a flat array of physical frames.
type Memory struct {
	bytes []byte
}

// New allocates backing storage for nrFrames frames.
func New(nrFrames int) *Memory {
	return &Memory{bytes: make([]byte, nrFrames*memlayout.PageSize)}
}

// Zero clears the contents of frame.
func (m *Memory) Zero(frame int32) {
	start := int(frame) * memlayout.PageSize
	clear(m.bytes[start : start+memlayout.PageSize])
}

// ReadPage returns a copy of the contents of frame.
func (m *Memory) ReadPage(frame int32) []byte {
	start := int(frame) * memlayout.PageSize
	page := make([]byte, memlayout.PageSize)
	copy(page, m.bytes[start:start+memlayout.PageSize])
	return page
}

// WritePage overwrites the contents of frame with page, which must be
// exactly PageSize bytes.
func (m *Memory) WritePage(frame int32, page []byte) {
	start := int(frame) * memlayout.PageSize
	copy(m.bytes[start:start+memlayout.PageSize], page)
}

// CopyPage copies the contents of frame src into frame dst.
func (m *Memory) CopyPage(dst, src int32) {
	m.WritePage(dst, m.ReadPage(src))
}

// ReadByte returns the byte at offset off within frame.
func (m *Memory) ReadByte(frame int32, off uintptr) byte {
	return m.bytes[int(frame)*memlayout.PageSize+int(off)]
}

// WriteByte sets the byte at offset off within frame.
func (m *Memory) WriteByte(frame int32, off uintptr, v byte) {
	m.bytes[int(frame)*memlayout.PageSize+int(off)] = v
}
