//go:build !linux

package live

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// AFPacketSource is only available on Linux.
type AFPacketSource struct{}

// OpenAFPacket always fails off Linux.
func OpenAFPacket(Config) (*AFPacketSource, error) {
	return nil, fmt.Errorf("afpacket backend requires linux")
}

func (s *AFPacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, fmt.Errorf("afpacket backend requires linux")
}

func (s *AFPacketSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *AFPacketSource) Close() error { return nil }
