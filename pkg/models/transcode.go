// Package models contains shared data models used across the clipforge codebase.
package models

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Profile is an enumerated output preset.
type Profile string

const (
	Profile480p  Profile = "480p"
	Profile720p  Profile = "720p"
	Profile1080p Profile = "1080p"

	DefaultProfile = Profile720p
)

// ProfileSpec describes the encoder settings for a profile.
type ProfileSpec struct {
	Width        int
	Height       int
	VideoBitrate string
}

var profileSpecs = map[Profile]ProfileSpec{
	Profile480p:  {Width: 854, Height: 480, VideoBitrate: "1000k"},
	Profile720p:  {Width: 1280, Height: 720, VideoBitrate: "2500k"},
	Profile1080p: {Width: 1920, Height: 1080, VideoBitrate: "5000k"},
}

// ParseProfile validates p. An empty string yields DefaultProfile.
func ParseProfile(p string) (Profile, error) {
	if p == "" {
		return DefaultProfile, nil
	}
	if _, ok := profileSpecs[Profile(p)]; !ok {
		return "", fmt.Errorf("unknown profile %q: must be one of 480p, 720p, 1080p", p)
	}
	return Profile(p), nil
}

// Spec returns the encoder settings for p, falling back to the default profile.
func (p Profile) Spec() ProfileSpec {
	if s, ok := profileSpecs[p]; ok {
		return s
	}
	return profileSpecs[DefaultProfile]
}

// VideoInfo is the probed metadata of a source video.
type VideoInfo struct {
	SizeBytes       int64   `json:"size"`
	DurationSeconds float64 `json:"duration"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Format          string  `json:"format,omitempty"`
}

// TranscodeRequest is the input to one engine invocation.
type TranscodeRequest struct {
	JobID           uuid.UUID
	SourceLocator   string
	Profile         Profile
	DurationSeconds float64
}

// TranscodeResult is the terminal success outcome of an engine invocation.
type TranscodeResult struct {
	OutputLocator string
}

// ProgressFunc receives percent-complete reports at the engine's own cadence.
type ProgressFunc func(percent int)

// TranscodingEngine converts a source into a target profile.
// Transcode blocks until the run terminates; the return value is the done
// callback: either an output locator or an error.
type TranscodingEngine interface {
	Transcode(ctx context.Context, req TranscodeRequest, onProgress ProgressFunc) (TranscodeResult, error)
	// Name returns the engine identifier (e.g., "ffmpeg").
	Name() string
}

// Prober reads container metadata from a readable media URL.
type Prober interface {
	Probe(ctx context.Context, mediaURL string) (*VideoInfo, error)
}
