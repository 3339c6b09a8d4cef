// Package capture reads link-layer frames and admits TCP segments exchanged
// with the target host.
package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Source is an opened capture handle. ReadPacketData returns io.EOF when the
// source is exhausted and core.ErrCaptureTimeout when a read timed out with
// nothing to return.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close() error
}

// Opener opens a Source. It is called synchronously from Session.Start.
type Opener func() (Source, error)

// FileSource replays a pcap file.
type FileSource struct {
	path string
	f    *os.File
	r    *pcapgo.Reader
}

// OpenFile opens a pcap file for replay.
func OpenFile(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header %s: %w", path, err)
	}
	return &FileSource{path: path, f: f, r: r}, nil
}

// FileOpener returns an Opener for path.
func FileOpener(path string) Opener {
	return func() (Source, error) {
		return OpenFile(path)
	}
}

func (s *FileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.r.ReadPacketData()
	if err == io.ErrUnexpectedEOF {
		// truncated trailing record
		return nil, ci, io.EOF
	}
	return data, ci, err
}

func (s *FileSource) LinkType() layers.LinkType {
	return s.r.LinkType()
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
