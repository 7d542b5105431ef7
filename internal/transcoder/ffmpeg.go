// Package transcoder runs ffmpeg and ffprobe as the transcoding engine.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// ErrEngine wraps every failure reported by ffmpeg or ffprobe.
var ErrEngine = errors.New("transcoding engine failed")

const outputPrefix = "transcoded"

// FFmpeg reads the source through a signed GET URL, encodes to a temp file
// and uploads the result next to the source.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	objects     objectstore.Store
	signTTL     time.Duration
	runner      commandRunner
}

// NewFFmpeg creates an engine. signTTL bounds the signed source URL and must
// outlive the longest expected run.
func NewFFmpeg(cfg config.TranscoderConfig, objects objectstore.Store, signTTL time.Duration) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		workDir:     cfg.WorkDir,
		objects:     objects,
		signTTL:     signTTL,
		runner:      &execRunner{},
	}
}

func (e *FFmpeg) Name() string {
	return "ffmpeg"
}

func (e *FFmpeg) Transcode(ctx context.Context, req models.TranscodeRequest, onProgress models.ProgressFunc) (models.TranscodeResult, error) {
	srcKey, err := e.objects.KeyFromLocator(req.SourceLocator)
	if err != nil {
		return models.TranscodeResult{}, err
	}
	inputURL, err := e.objects.PresignGet(ctx, srcKey, e.signTTL)
	if err != nil {
		return models.TranscodeResult{}, fmt.Errorf("sign source: %w", err)
	}

	tmp, err := os.CreateTemp(e.workDir, "clipforge-"+req.JobID.String()+"-*.mp4")
	if err != nil {
		return models.TranscodeResult{}, fmt.Errorf("create temp output: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()
	defer os.Remove(outPath)

	args := buildArgs(inputURL, outPath, req.Profile.Spec())
	slog.Debug("ffmpeg starting", "job_id", req.JobID, "profile", req.Profile)

	parser := newProgressParser(req.DurationSeconds, onProgress)
	stderr, err := e.runner.Stream(ctx, e.ffmpegPath, args, parser.Line)
	if err != nil {
		if ctx.Err() != nil {
			return models.TranscodeResult{}, ctx.Err()
		}
		return models.TranscodeResult{}, fmt.Errorf("%w: ffmpeg: %v: %s", ErrEngine, err, stderr)
	}

	f, err := os.Open(outPath)
	if err != nil {
		return models.TranscodeResult{}, fmt.Errorf("open output: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return models.TranscodeResult{}, fmt.Errorf("stat output: %w", err)
	}
	if st.Size() == 0 {
		return models.TranscodeResult{}, fmt.Errorf("%w: ffmpeg produced an empty file", ErrEngine)
	}

	key := objectstore.GenerateKey(fmt.Sprintf("%s_%s.mp4", req.JobID, req.Profile), outputPrefix)
	locator, err := e.objects.Upload(ctx, key, f, st.Size(), "video/mp4")
	if err != nil {
		return models.TranscodeResult{}, fmt.Errorf("upload output: %w", err)
	}
	return models.TranscodeResult{OutputLocator: locator}, nil
}

func buildArgs(input, output string, spec models.ProfileSpec) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-b:v", spec.VideoBitrate,
		"-s", strconv.Itoa(spec.Width) + "x" + strconv.Itoa(spec.Height),
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-progress", "pipe:1",
		output,
	}
}

var (
	_ models.TranscodingEngine = (*FFmpeg)(nil)
	_ models.Prober            = (*FFmpeg)(nil)
)
