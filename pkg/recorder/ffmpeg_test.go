package recorder

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpegArgs(t *testing.T) {
	switch runtime.GOOS {
	case "darwin", "linux", "windows":
	default:
		t.Skipf("no capture backend for %s", runtime.GOOS)
	}

	d := NewFFmpegDevice("", "hw:1", nil)
	assert.Equal(t, "ffmpeg", d.Path)

	args, err := d.args()
	require.NoError(t, err)
	assert.Contains(t, args, "libopus")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	input := "hw:1"
	if runtime.GOOS == "windows" {
		input = "audio=hw:1"
	}
	assert.Contains(t, args, input)
}

func TestFFmpegMissingBinary(t *testing.T) {
	d := NewFFmpegDevice(filepath.Join(t.TempDir(), "no-such-ffmpeg"), "", nil)

	_, err := d.Open(context.Background())
	assert.ErrorIs(t, err, ErrPermission)
}
