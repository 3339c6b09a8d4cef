//go:build linux

package live

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/aqmon/internal/core"
)

// AFPacketSource captures from a TPACKET_V3 ring.
type AFPacketSource struct {
	handle *afpacket.TPacket
}

// OpenAFPacket opens an AF_PACKET ring on cfg.Interface.
func OpenAFPacket(cfg Config) (*AFPacketSource, error) {
	cfg.applyDefaults()
	frameSize, blockSize, err := ringGeometry(cfg.SnapLen, cfg.BlockSize, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	opts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(cfg.NumBlocks),
		afpacket.OptPollTimeout(cfg.ReadTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	}
	if cfg.Interface != "" {
		opts = append(opts, afpacket.OptInterface(cfg.Interface))
	}

	handle, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	raw, err := CompileBPF(cfg.BPFFilter, frameSize)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if err := handle.SetBPF(raw); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF: %w", err)
	}

	slog.Info("afpacket ring opened",
		"interface", cfg.Interface,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", cfg.NumBlocks)
	return &AFPacketSource{handle: handle}, nil
}

// ReadPacketData copies the frame out of the ring.
func (s *AFPacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, core.ErrCaptureTimeout
	}
	return data, ci, err
}

func (s *AFPacketSource) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *AFPacketSource) Close() error {
	s.handle.Close()
	return nil
}
