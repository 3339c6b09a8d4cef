// Package live opens capture sources on network interfaces. It requires
// libpcap (and AF_PACKET on Linux).
package live

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/aqmon/internal/capture"
	"firestige.xyz/aqmon/internal/core"
)

// Backend names.
const (
	BackendPcap     = "pcap"
	BackendAFPacket = "afpacket"
)

// Config contains live capture configuration.
type Config struct {
	Interface   string        // Device name; empty picks the first pcap device
	BPFFilter   string        // Coarse kernel filter, "tcp" by default
	SnapLen     int           // Bytes captured per frame
	Promiscuous bool          // pcap only
	ReadTimeout time.Duration // Read / poll timeout bounding Stop latency
	BlockSize   int           // afpacket ring block size in bytes
	NumBlocks   int           // afpacket ring block count
}

func (c *Config) applyDefaults() {
	if c.BPFFilter == "" {
		c.BPFFilter = "tcp"
	}
	if c.SnapLen <= 0 {
		c.SnapLen = 65535
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 1 << 20
	}
	if c.NumBlocks <= 0 {
		c.NumBlocks = 16
	}
}

// Opener returns a capture.Opener for backend.
func Opener(backend string, cfg Config) (capture.Opener, error) {
	cfg.applyDefaults()
	switch backend {
	case "", BackendPcap:
		return func() (capture.Source, error) {
			src, err := OpenPcap(cfg)
			if err != nil {
				return nil, err
			}
			return src, nil
		}, nil
	case BackendAFPacket:
		return func() (capture.Source, error) {
			src, err := OpenAFPacket(cfg)
			if err != nil {
				return nil, err
			}
			return src, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported capture backend %q", backend)
	}
}

// PcapSource captures through libpcap.
type PcapSource struct {
	handle *pcap.Handle
}

// OpenPcap opens a libpcap live handle on cfg.Interface.
func OpenPcap(cfg Config) (*PcapSource, error) {
	cfg.applyDefaults()
	device := cfg.Interface
	if device == "" {
		devs, err := pcap.FindAllDevs()
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		if len(devs) == 0 {
			return nil, fmt.Errorf("no capture device available")
		}
		device = devs[0].Name
	}

	handle, err := pcap.OpenLive(device, int32(cfg.SnapLen), cfg.Promiscuous, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}
	if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter %q: %w", cfg.BPFFilter, err)
	}
	return &PcapSource{handle: handle}, nil
}

func (s *PcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, core.ErrCaptureTimeout
	}
	return data, ci, err
}

func (s *PcapSource) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

func (s *PcapSource) Close() error {
	s.handle.Close()
	return nil
}

// CompileBPF compiles filter for Ethernet frames into raw instructions.
func CompileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", filter, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// ringGeometry aligns the frame size to TPACKET_ALIGNMENT and grows the block
// size to a multiple of both the frame and page size.
func ringGeometry(snapLen, blockSize, pageSize int) (frameSize, alignedBlock int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52

	if snapLen <= 0 || pageSize <= 0 {
		return 0, 0, fmt.Errorf("invalid ring geometry: snap_len=%d page_size=%d", snapLen, pageSize)
	}
	frameSize = (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment

	unit := lcm(frameSize, pageSize)
	if blockSize < unit {
		blockSize = unit
	}
	alignedBlock = (blockSize + unit - 1) / unit * unit
	return frameSize, alignedBlock, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
