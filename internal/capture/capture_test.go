package capture

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/aqmon/internal/capture/capturetest"
	"firestige.xyz/aqmon/internal/core"
)

var (
	target = netip.MustParseAddr("172.65.160.131")
	client = netip.MustParseAddr("192.168.1.20")
	other  = netip.MustParseAddr("10.0.0.9")
)

func TestAdmitter_Predicate(t *testing.T) {
	v6target := netip.MustParseAddr("2001:db8::1")
	v6client := netip.MustParseAddr("2001:db8::2")

	tests := []struct {
		name   string
		target netip.Addr
		frame  []byte
		want   Reason
	}{
		{"to target", target, capturetest.TCPFrame(client, target, 50000, 5588, []byte(`{"a":1}`)), Admitted},
		{"from target", target, capturetest.TCPFrame(target, client, 5588, 50000, []byte(`{"a":1}`)), Admitted},
		{"other host", target, capturetest.TCPFrame(client, other, 50000, 5588, []byte(`{"a":1}`)), OtherHost},
		{"empty payload", target, capturetest.TCPFrame(target, client, 5588, 50000, nil), EmptyPayload},
		{"udp", target, capturetest.UDPFrame(target, client, 5588, 50000, []byte("x")), NotTCP},
		{"garbage", target, []byte{0x01, 0x02}, Malformed},
		{"ipv6", v6target, capturetest.TCPFrame(v6client, v6target, 50000, 5588, []byte("{}")), Admitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdmitter(layers.LinkTypeEthernet, tt.target)
			_, got := a.Admit(tt.frame, gopacket.CaptureInfo{})
			assert.Equal(t, tt.want, got, got.String())
		})
	}
}

func TestAdmitter_SegmentFields(t *testing.T) {
	a := NewAdmitter(layers.LinkTypeEthernet, target)
	frame := capturetest.TCPFrame(target, client, 5588, 50000, []byte(`{"cmd":"ct"}`))
	ts := time.Unix(1700000000, 0)

	seg, reason := a.Admit(frame, gopacket.CaptureInfo{Timestamp: ts})
	require.Equal(t, Admitted, reason)
	assert.Equal(t, target, seg.SrcIP)
	assert.Equal(t, client, seg.DstIP)
	assert.Equal(t, uint16(5588), seg.SrcPort)
	assert.Equal(t, uint16(50000), seg.DstPort)
	assert.Equal(t, ts, seg.Timestamp)
	assert.Equal(t, `{"cmd":"ct"}`, string(seg.Payload))

	// payload must not alias the frame buffer
	for i := range frame {
		frame[i] = 0
	}
	assert.Equal(t, `{"cmd":"ct"}`, string(seg.Payload))
}

func TestAdmitter_RawLinkType(t *testing.T) {
	frame := capturetest.TCPFrame(client, target, 50000, 5588, []byte("{}"))
	const ethHeaderLen = 14

	a := NewAdmitter(layers.LinkTypeRaw, target)
	_, reason := a.Admit(frame[ethHeaderLen:], gopacket.CaptureInfo{})
	assert.Equal(t, Admitted, reason)
}

type chanSink struct {
	mu   sync.Mutex
	segs []core.RawSegment
	full bool
}

func (s *chanSink) Push(seg core.RawSegment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.segs = append(s.segs, seg)
	return true
}

func TestCapturer_RunUntilEOF(t *testing.T) {
	src := capturetest.NewSource(
		capturetest.TCPFrame(client, target, 50000, 5588, []byte("a")),
		capturetest.TCPFrame(client, other, 50000, 5588, []byte("b")),
		capturetest.TCPFrame(target, client, 5588, 50000, []byte("c")),
	)
	src.Add(capturetest.Frame{Err: errors.New("transient")})
	src.Add(capturetest.Frame{Err: core.ErrCaptureTimeout})
	src.Add(capturetest.Frame{Data: capturetest.TCPFrame(target, client, 5588, 50000, []byte("d"))})

	c := NewCapturer(src, "test", target)
	sink := &chanSink{}
	err := c.Run(context.Background(), sink)

	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, src.Closed())

	var got []string
	for _, s := range sink.segs {
		got = append(got, string(s.Payload))
	}
	assert.Equal(t, []string{"a", "c", "d"}, got)

	st := c.Stats()
	assert.Equal(t, uint64(4), st.Packets)
	assert.Equal(t, uint64(3), st.Admitted)
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Equal(t, uint64(1), st.Errors)
}

func TestCapturer_CountsDrops(t *testing.T) {
	src := capturetest.NewSource(capturetest.TCPFrame(client, target, 50000, 5588, []byte("a")))
	c := NewCapturer(src, "test", target)
	_ = c.Run(context.Background(), &chanSink{full: true})
	assert.Equal(t, uint64(1), c.Stats().Dropped)
}

func TestCapturer_StopsOnCancel(t *testing.T) {
	src := capturetest.NewSource()
	src.Live = true
	c := NewCapturer(src, "test", target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, &chanSink{}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("capture loop did not observe cancellation")
	}
}

func writePcap(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Unix(1700000000, 0)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func TestFileSource_Replay(t *testing.T) {
	path := writePcap(t,
		capturetest.TCPFrame(client, target, 50000, 5588, []byte(`{"b":`)),
		capturetest.TCPFrame(client, target, 50000, 5588, []byte(`{}}`)),
	)

	src, err := FileOpener(path)()
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, src.LinkType())

	sink := &chanSink{}
	err = NewCapturer(src, "file", target).Run(context.Background(), sink)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, sink.segs, 2)
	assert.Equal(t, `{"b":`, string(sink.segs[0].Payload))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), sink.segs[0].Timestamp.UTC())
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile("")
	assert.Error(t, err)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pcap")
	require.NoError(t, os.WriteFile(bad, []byte("not a pcap"), 0o600))
	_, err = OpenFile(bad)
	assert.Error(t, err)
}
