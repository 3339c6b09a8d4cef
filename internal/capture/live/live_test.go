package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingGeometry(t *testing.T) {
	tests := []struct {
		name      string
		snapLen   int
		blockSize int
		wantFrame int
	}{
		{"jumbo", 65535, 1 << 20, 65600},
		{"small", 1500, 1 << 20, 1552},
		{"tiny block grows", 1500, 1, 1552},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, block, err := ringGeometry(tt.snapLen, tt.blockSize, 4096)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrame, frame)
			assert.Zero(t, frame%16)
			assert.Zero(t, block%frame, "block must hold whole frames")
			assert.Zero(t, block%4096, "block must be page aligned")
			assert.GreaterOrEqual(t, block, tt.blockSize)
		})
	}

	_, _, err := ringGeometry(0, 1, 4096)
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, "tcp", c.BPFFilter)
	assert.Equal(t, 65535, c.SnapLen)
	assert.Equal(t, 100*time.Millisecond, c.ReadTimeout)
	assert.Positive(t, c.BlockSize)
	assert.Positive(t, c.NumBlocks)
}

func TestOpener_UnknownBackend(t *testing.T) {
	_, err := Opener("netmap", Config{})
	assert.Error(t, err)

	open, err := Opener(BackendPcap, Config{})
	require.NoError(t, err)
	assert.NotNil(t, open)
}
