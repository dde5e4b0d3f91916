package audio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeFFmpeg = `#!/bin/sh
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  last="$a"
done
cp "$in" "$last"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func TestBitrate(t *testing.T) {
	assert.Equal(t, "128k", Bitrate("low"))
	assert.Equal(t, "192k", Bitrate("MEDIUM"))
	assert.Equal(t, "320k", Bitrate("high"))
	assert.Equal(t, "320k", Bitrate(""))
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("in.flac", "out.mp3", "mp3", "low")
	assert.Equal(t, []string{"-y", "-v", "error", "-i", "in.flac", "-vn", "-map_metadata", "0",
		"-c:a", "libmp3lame", "-b:a", "128k", "out.mp3"}, args)

	args = buildArgs("in.mp3", "out.flac", "flac", "high")
	assert.NotContains(t, args, "-b:a")
}

func TestTranscodePassthroughWithoutFFmpeg(t *testing.T) {
	p := NewFFmpegProcessor("")
	res, err := p.Transcode(context.Background(), Request{InputPath: "/tmp/x.bin", SourceFormat: "flac", Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.bin", res.Path)
	assert.Equal(t, "mp3", res.Format)
}

func TestTranscodePassthroughSameFormat(t *testing.T) {
	p := NewFFmpegProcessor(writeScript(t, "#!/bin/sh\nexit 1\n"))
	res, err := p.Transcode(context.Background(), Request{InputPath: "/tmp/x.mp3", SourceFormat: "MP3", Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.mp3", res.Path)
}

func TestTranscodeRunsFFmpeg(t *testing.T) {
	p := NewFFmpegProcessor(writeScript(t, fakeFFmpeg))
	input := filepath.Join(t.TempDir(), "download.flac")
	require.NoError(t, os.WriteFile(input, []byte("flac bytes"), 0644))

	res, err := p.Transcode(context.Background(), Request{InputPath: input, SourceFormat: "flac", Format: "mp3", Quality: "high"})
	require.NoError(t, err)
	assert.Equal(t, "mp3", res.Format)
	assert.NotEqual(t, input, res.Path)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "flac bytes", string(data))
}

func TestTranscodeFailure(t *testing.T) {
	p := NewFFmpegProcessor(writeScript(t, "#!/bin/sh\necho boom >&2\nexit 1\n"))
	input := filepath.Join(t.TempDir(), "download.flac")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0644))

	_, err := p.Transcode(context.Background(), Request{InputPath: input, SourceFormat: "flac", Format: "mp3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
