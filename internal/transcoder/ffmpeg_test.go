package transcoder

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// fakeRunner replays scripted process output.
type fakeRunner struct {
	lines     []string
	stderr    string
	streamErr error
	output    []byte
	outputErr error
	writeOut  []byte

	gotName string
	gotArgs []string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.gotName = name
	f.gotArgs = args
	return f.output, f.outputErr
}

func (f *fakeRunner) Stream(ctx context.Context, name string, args []string, onLine func(string)) (string, error) {
	f.gotName = name
	f.gotArgs = args
	for _, l := range f.lines {
		onLine(l)
	}
	if f.streamErr != nil {
		return f.stderr, f.streamErr
	}
	if f.writeOut != nil {
		if err := os.WriteFile(args[len(args)-1], f.writeOut, 0o600); err != nil {
			return "", err
		}
	}
	return f.stderr, ctx.Err()
}

type fakeObjects struct {
	uploaded map[string][]byte
	signErr  error
}

func (f *fakeObjects) PresignPut(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}
func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example/" + key, nil
}
func (f *fakeObjects) Exists(context.Context, string) (bool, error) { return true, nil }
func (f *fakeObjects) Metadata(context.Context, string) (*objectstore.Metadata, error) {
	return &objectstore.Metadata{}, nil
}
func (f *fakeObjects) Delete(context.Context, string) error { return nil }
func (f *fakeObjects) Upload(_ context.Context, key string, body io.ReadSeeker, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.uploaded[key] = data
	return f.Locator(key), nil
}
func (f *fakeObjects) Locator(key string) string { return objectstore.Locator("media", key) }
func (f *fakeObjects) KeyFromLocator(loc string) (string, error) {
	_, key, err := objectstore.ParseLocator(loc)
	return key, err
}

func newTestEngine(t *testing.T, runner *fakeRunner, objects *fakeObjects) *FFmpeg {
	t.Helper()
	e := NewFFmpeg(config.TranscoderConfig{
		FFmpegPath:  "/usr/bin/ffmpeg",
		FFprobePath: "/usr/bin/ffprobe",
		WorkDir:     t.TempDir(),
	}, objects, time.Hour)
	e.runner = runner
	return e
}

func progressBlock(outTimeUS int, state string) []string {
	return []string{
		"frame=10",
		"out_time_us=" + strconv.Itoa(outTimeUS),
		"speed=2.0x",
		"progress=" + state,
	}
}

func TestTranscode_Success(t *testing.T) {
	var lines []string
	lines = append(lines, progressBlock(2_500_000, "continue")...)
	lines = append(lines, progressBlock(8_000_000, "continue")...)
	lines = append(lines, progressBlock(10_000_000, "end")...)

	runner := &fakeRunner{lines: lines, writeOut: []byte("mp4 bytes")}
	objects := &fakeObjects{uploaded: map[string][]byte{}}
	e := newTestEngine(t, runner, objects)

	jobID := uuid.New()
	var reports []int
	res, err := e.Transcode(context.Background(), models.TranscodeRequest{
		JobID:           jobID,
		SourceLocator:   "s3://media/videos/1-abc-clip.mp4",
		Profile:         models.Profile480p,
		DurationSeconds: 10,
	}, func(p int) { reports = append(reports, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{25, 80, 99}, reports)
	assert.True(t, strings.HasPrefix(res.OutputLocator, "s3://media/transcoded/"))
	assert.True(t, strings.HasSuffix(res.OutputLocator, jobID.String()+"_480p.mp4"))
	require.Len(t, objects.uploaded, 1)
	for _, data := range objects.uploaded {
		assert.Equal(t, []byte("mp4 bytes"), data)
	}

	assert.Equal(t, "/usr/bin/ffmpeg", runner.gotName)
	assert.Contains(t, runner.gotArgs, "https://signed.example/videos/1-abc-clip.mp4")
	assert.Contains(t, runner.gotArgs, "854x480")
	assert.Contains(t, runner.gotArgs, "1000k")
	assert.Contains(t, runner.gotArgs, "libx264")
	assert.Contains(t, runner.gotArgs, "aac")
	assert.Contains(t, runner.gotArgs, "pipe:1")

	// Temp output is removed.
	_, statErr := os.Stat(runner.gotArgs[len(runner.gotArgs)-1])
	assert.True(t, os.IsNotExist(statErr))
}

func TestTranscode_EngineError(t *testing.T) {
	runner := &fakeRunner{
		lines:     progressBlock(1_000_000, "continue"),
		stderr:    "Invalid data found when processing input",
		streamErr: errors.New("exit status 1"),
	}
	objects := &fakeObjects{uploaded: map[string][]byte{}}
	e := newTestEngine(t, runner, objects)

	_, err := e.Transcode(context.Background(), models.TranscodeRequest{
		JobID:           uuid.New(),
		SourceLocator:   "s3://media/videos/1-abc-clip.mp4",
		Profile:         models.Profile720p,
		DurationSeconds: 10,
	}, func(int) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngine)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Empty(t, objects.uploaded)
}

func TestTranscode_EmptyOutput(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestEngine(t, runner, &fakeObjects{uploaded: map[string][]byte{}})

	_, err := e.Transcode(context.Background(), models.TranscodeRequest{
		JobID:         uuid.New(),
		SourceLocator: "s3://media/videos/1-abc-clip.mp4",
		Profile:       models.Profile720p,
	}, nil)
	assert.ErrorIs(t, err, ErrEngine)
}

func TestTranscode_BadLocator(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, &fakeObjects{uploaded: map[string][]byte{}})

	_, err := e.Transcode(context.Background(), models.TranscodeRequest{
		JobID:         uuid.New(),
		SourceLocator: "videos/clip.mp4",
	}, nil)
	assert.ErrorIs(t, err, objectstore.ErrInvalidLocator)
}

func TestTranscode_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{streamErr: errors.New("signal: killed")}
	e := newTestEngine(t, runner, &fakeObjects{uploaded: map[string][]byte{}})

	_, err := e.Transcode(ctx, models.TranscodeRequest{
		JobID:         uuid.New(),
		SourceLocator: "s3://media/videos/1-abc-clip.mp4",
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressParser(t *testing.T) {
	var got []int
	p := newProgressParser(4, func(n int) { got = append(got, n) })

	p.Line("out_time_ms=1000000")
	p.Line("progress=continue")
	p.Line("out_time_us=1000000")
	p.Line("progress=continue") // unchanged, not reported
	p.Line("out_time_us=500000")
	p.Line("progress=continue") // regress is reported
	p.Line("out_time_us=N/A")
	p.Line("garbage")
	p.Line("out_time_us=9000000")
	p.Line("progress=end")

	assert.Equal(t, []int{25, 12, 99}, got)
}

func TestProgressParser_UnknownDuration(t *testing.T) {
	called := false
	p := newProgressParser(0, func(int) { called = true })
	p.Line("out_time_us=1000000")
	p.Line("progress=continue")
	assert.False(t, called)
}

func TestProbe(t *testing.T) {
	runner := &fakeRunner{output: []byte(`{
		"streams": [
			{"codec_type": "audio"},
			{"codec_type": "video", "width": 1920, "height": 1080}
		],
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.480000", "size": "1048576"}
	}`)}
	e := newTestEngine(t, runner, &fakeObjects{})

	info, err := e.Probe(context.Background(), "https://signed.example/videos/clip.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 12.48, info.DurationSeconds, 0.0001)
	assert.Equal(t, int64(1048576), info.SizeBytes)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, "/usr/bin/ffprobe", runner.gotName)
	assert.Contains(t, runner.gotArgs, "-show_format")
}

func TestProbe_Errors(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{outputErr: errors.New("exit status 1")}, &fakeObjects{})
	_, err := e.Probe(context.Background(), "https://signed.example/x")
	assert.ErrorIs(t, err, ErrEngine)

	e = newTestEngine(t, &fakeRunner{output: []byte("not json")}, &fakeObjects{})
	_, err = e.Probe(context.Background(), "https://signed.example/x")
	assert.ErrorIs(t, err, ErrEngine)
}

func TestTailBuffer(t *testing.T) {
	var tb tailBuffer
	_, _ = tb.Write([]byte(strings.Repeat("a", stderrTailBytes)))
	_, _ = tb.Write([]byte("the end\n"))
	s := tb.String()
	assert.Len(t, s, stderrTailBytes-1)
	assert.True(t, strings.HasSuffix(s, "the end"))
}
