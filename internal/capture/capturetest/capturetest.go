// Package capturetest provides frame builders and an in-memory capture source
// for tests.
package capturetest

import (
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/aqmon/internal/core"
)

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// TCPFrame builds an Ethernet frame carrying one TCP segment.
func TCPFrame(src, dst netip.Addr, sport, dport uint16, payload []byte) []byte {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     1000,
		ACK:     true,
		PSH:     len(payload) > 0,
		Window:  65535,
	}

	var ip gopacket.SerializableLayer
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC}
	if src.Is4() {
		ip4 := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
		}
		_ = tcp.SetNetworkLayerForChecksum(ip4)
		eth.EthernetType = layers.EthernetTypeIPv4
		ip = ip4
	} else {
		ip6 := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolTCP,
			SrcIP:      src.AsSlice(),
			DstIP:      dst.AsSlice(),
		}
		_ = tcp.SetNetworkLayerForChecksum(ip6)
		eth.EthernetType = layers.EthernetTypeIPv6
		ip = ip6
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// UDPFrame builds an Ethernet/IPv4 frame carrying one UDP datagram.
func UDPFrame(src, dst netip.Addr, sport, dport uint16, payload []byte) []byte {
	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	_ = udp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, udp, gopacket.Payload(payload)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Frame is one scripted read result.
type Frame struct {
	Data []byte
	Err  error
}

// Source replays scripted frames as Ethernet captures. When the script is
// exhausted it returns io.EOF, or blocks returning core.ErrCaptureTimeout every
// Poll interval when Live is set.
type Source struct {
	Live bool
	Poll time.Duration

	mu     sync.Mutex
	frames []Frame
	closed bool
}

// NewSource creates a source replaying payload frames in order.
func NewSource(frames ...[]byte) *Source {
	s := &Source{Poll: 5 * time.Millisecond}
	for _, f := range frames {
		s.frames = append(s.frames, Frame{Data: f})
	}
	return s
}

// Add appends frames to the script.
func (s *Source) Add(frames ...Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frames...)
}

func (s *Source) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		if f.Err != nil {
			return nil, gopacket.CaptureInfo{}, f.Err
		}
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f.Data), Length: len(f.Data)}
		return f.Data, ci, nil
	}
	live := s.Live
	s.mu.Unlock()

	if !live {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	time.Sleep(s.Poll)
	return nil, gopacket.CaptureInfo{}, core.ErrCaptureTimeout
}

func (s *Source) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
