package capture

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/aqmon/internal/core"
)

// Reason is the admission verdict for one frame.
type Reason uint8

const (
	Admitted Reason = iota
	NotTCP
	OtherHost
	EmptyPayload
	Malformed
)

var reasonNames = [...]string{
	Admitted:     "admitted",
	NotTCP:       "not_tcp",
	OtherHost:    "other_host",
	EmptyPayload: "empty_payload",
	Malformed:    "malformed",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Admitter decodes frames of one link type and applies the admission
// predicate. It reuses its layer structs and is not safe for concurrent use.
type Admitter struct {
	target netip.Addr

	parser  *gopacket.DecodingLayerParser
	parser6 *gopacket.DecodingLayerParser // raw link types carrying IPv6
	decoded []gopacket.LayerType

	eth  layers.Ethernet
	dot  layers.Dot1Q
	sll  layers.LinuxSLL
	loop layers.Loopback
	ip4  layers.IPv4
	ip6  layers.IPv6
	tcp  layers.TCP
	pay  gopacket.Payload
}

// NewAdmitter creates an admitter for frames of linkType exchanged with target.
func NewAdmitter(linkType layers.LinkType, target netip.Addr) *Admitter {
	a := &Admitter{
		target:  target.Unmap(),
		decoded: make([]gopacket.LayerType, 0, 8),
	}
	switch linkType {
	case layers.LinkTypeLinuxSLL:
		a.parser = a.newParser(layers.LayerTypeLinuxSLL)
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		a.parser = a.newParser(layers.LayerTypeLoopback)
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		a.parser = a.newParser(layers.LayerTypeIPv4)
		a.parser6 = a.newParser(layers.LayerTypeIPv6)
	default:
		a.parser = a.newParser(layers.LayerTypeEthernet)
	}
	return a
}

func (a *Admitter) newParser(first gopacket.LayerType) *gopacket.DecodingLayerParser {
	p := gopacket.NewDecodingLayerParser(first,
		&a.eth, &a.dot, &a.sll, &a.loop, &a.ip4, &a.ip6, &a.tcp, &a.pay)
	p.IgnoreUnsupported = true
	return p
}

// Admit decodes one frame. The returned segment owns a copy of the payload.
func (a *Admitter) Admit(data []byte, ci gopacket.CaptureInfo) (core.RawSegment, Reason) {
	parser := a.parser
	if a.parser6 != nil && len(data) > 0 && data[0]>>4 == 6 {
		parser = a.parser6
	}
	if err := parser.DecodeLayers(data, &a.decoded); err != nil {
		return core.RawSegment{}, Malformed
	}

	var (
		src, dst netip.Addr
		isIP     bool
		isTCP    bool
	)
	for _, lt := range a.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			src, _ = netip.AddrFromSlice(a.ip4.SrcIP.To4())
			dst, _ = netip.AddrFromSlice(a.ip4.DstIP.To4())
			isIP = true
		case layers.LayerTypeIPv6:
			src, _ = netip.AddrFromSlice(a.ip6.SrcIP.To16())
			dst, _ = netip.AddrFromSlice(a.ip6.DstIP.To16())
			src, dst = src.Unmap(), dst.Unmap()
			isIP = true
		case layers.LayerTypeTCP:
			isTCP = true
		}
	}
	if !isIP || !isTCP {
		return core.RawSegment{}, NotTCP
	}

	seg := core.RawSegment{
		Timestamp: ci.Timestamp,
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   uint16(a.tcp.SrcPort),
		DstPort:   uint16(a.tcp.DstPort),
	}
	if !seg.Involves(a.target) {
		return core.RawSegment{}, OtherHost
	}
	if len(a.tcp.Payload) == 0 {
		return core.RawSegment{}, EmptyPayload
	}
	seg.Payload = append([]byte(nil), a.tcp.Payload...)
	return seg, Admitted
}
