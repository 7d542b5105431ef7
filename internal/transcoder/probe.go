package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kiranshivaraju/clipforge/pkg/models"
)

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe against mediaURL. The URL is usually a signed GET URL.
func (e *FFmpeg) Probe(ctx context.Context, mediaURL string) (*models.VideoInfo, error) {
	out, err := e.runner.Output(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		mediaURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v", ErrEngine, err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*models.VideoInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("%w: decode ffprobe output: %v", ErrEngine, err)
	}

	info := &models.VideoInfo{Format: po.Format.FormatName}
	if po.Format.Duration != "" {
		d, err := strconv.ParseFloat(po.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parse duration %q: %v", ErrEngine, po.Format.Duration, err)
		}
		info.DurationSeconds = d
	}
	if po.Format.Size != "" {
		if n, err := strconv.ParseInt(po.Format.Size, 10, 64); err == nil {
			info.SizeBytes = n
		}
	}
	for _, s := range po.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}
