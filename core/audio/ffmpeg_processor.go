// Package audio converts downloaded audio into the requested format and
// quality with ffmpeg.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"TrackVault/logger"
	"TrackVault/model"
)

// Quality presets.
const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// Request describes one conversion.
type Request struct {
	InputPath    string
	SourceFormat string // empty when unknown
	Format       string
	Quality      string
}

// Result is the converted file. Path equals the input path for a passthrough.
type Result struct {
	Path     string
	Format   string
	Duration float32 // seconds, 0 when unknown
}

// Transcoder converts a downloaded file.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) (Result, error)
}

// FFmpegProcessor runs ffmpeg. With an empty ffmpegPath every request is a
// passthrough that only relabels the file with the target format.
type FFmpegProcessor struct {
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// Enabled reports whether ffmpeg is configured.
func (p *FFmpegProcessor) Enabled() bool {
	return p.ffmpegPath != ""
}

// Bitrate maps a quality preset to an ffmpeg bitrate.
func Bitrate(quality string) string {
	switch strings.ToLower(quality) {
	case QualityLow:
		return "128k"
	case QualityMedium:
		return "192k"
	default:
		return "320k"
	}
}

func codecArgs(format, quality string) []string {
	switch model.NormalizeFormat(format) {
	case "flac":
		return []string{"-c:a", "flac"}
	case "wav":
		return []string{"-c:a", "pcm_s16le"}
	case "m4a", "aac", "mp4":
		return []string{"-c:a", "aac", "-b:a", Bitrate(quality)}
	case "ogg", "opus":
		return []string{"-c:a", "libopus", "-b:a", Bitrate(quality)}
	default:
		return []string{"-c:a", "libmp3lame", "-b:a", Bitrate(quality)}
	}
}

// buildArgs returns the ffmpeg arguments converting input into output.
func buildArgs(input, output, format, quality string) []string {
	args := []string{"-y", "-v", "error", "-i", input, "-vn", "-map_metadata", "0"}
	args = append(args, codecArgs(format, quality)...)
	return append(args, output)
}

// Transcode converts req.InputPath. Matching source and target formats, or a
// missing ffmpeg, result in a passthrough.
func (p *FFmpegProcessor) Transcode(ctx context.Context, req Request) (Result, error) {
	target := model.NormalizeFormat(req.Format)
	if !p.Enabled() || (req.SourceFormat != "" && model.NormalizeFormat(req.SourceFormat) == target) {
		res := Result{Path: req.InputPath, Format: target}
		if p.Enabled() {
			res.Duration, _ = p.GetAudioDuration(ctx, req.InputPath)
		}
		return res, nil
	}

	output := strings.TrimSuffix(req.InputPath, filepath.Ext(req.InputPath)) + ".out." + target
	args := buildArgs(req.InputPath, output, target, req.Quality)

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg",
		logger.String("cmd", p.ffmpegPath+" "+strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		os.Remove(output)
		return Result{}, fmt.Errorf("ffmpeg execution failed for %s: %w: %s", req.InputPath, err, strings.TrimSpace(stderr.String()))
	}

	duration, err := p.GetAudioDuration(ctx, output)
	if err != nil {
		logger.Debug("could not read audio duration",
			logger.String("path", output), logger.ErrorField(err))
	}

	logger.Info("transcoded audio",
		logger.String("input", req.InputPath),
		logger.String("format", target),
		logger.String("bitrate", Bitrate(req.Quality)))
	return Result{Path: output, Format: target, Duration: duration}, nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// GetAudioDuration uses ffprobe to get the duration of an audio file in seconds.
func (p *FFmpegProcessor) GetAudioDuration(ctx context.Context, inputFile string) (float32, error) {
	ffprobePath := filepath.Join(filepath.Dir(p.ffmpegPath),
		strings.Replace(filepath.Base(p.ffmpegPath), "ffmpeg", "ffprobe", 1))

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w: %s", inputFile, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputFile, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputFile)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", probeData.Format.Duration, inputFile, err)
	}
	return float32(duration), nil
}
