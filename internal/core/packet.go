// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// RawSegment is an admitted TCP segment headed to or from the target host.
type RawSegment struct {
	Timestamp time.Time // Capture timestamp
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Payload   []byte // Application payload, owned by the segment (never a ring-buffer view)
}

// Involves reports whether addr is either endpoint of the segment.
func (s RawSegment) Involves(addr netip.Addr) bool {
	return s.SrcIP == addr || s.DstIP == addr
}
