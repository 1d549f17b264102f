package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Thumbnails are taken one second in, or just before the end of shorter videos.
const (
	thumbnailSeekSec = 1.0
	lastFrameMargin  = 0.05
)

// ---------------------------------------------------------------------------
// FFmpegService
// Measures media durations with ffprobe and extracts video thumbnails.
// Inputs arrive as bytes and are staged in the temp directory.
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
	logger  *zap.Logger
}

func NewFFmpegService(tempDir string, logger *zap.Logger) *FFmpegService {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &FFmpegService{
		tempDir: tempDir,
		logger:  logger.Named("ffmpeg"),
	}
}

// ProbeDuration decodes the media and returns its duration in seconds.
// ext is the container extension ("mp3", "mp4").
func (s *FFmpegService) ProbeDuration(ctx context.Context, data []byte, ext string) (float64, error) {
	path, err := s.stage(data, ext)
	if err != nil {
		return 0, err
	}
	defer s.Cleanup(path)

	return s.probeFile(ctx, path)
}

func (s *FFmpegService) probeFile(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	durationSec, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return durationSec, nil
}

// Thumbnail extracts a JPEG still from the video and returns it as a data URL.
func (s *FFmpegService) Thumbnail(ctx context.Context, video []byte) (string, error) {
	videoPath, err := s.stage(video, "mp4")
	if err != nil {
		return "", err
	}
	defer s.Cleanup(videoPath)

	duration, err := s.probeFile(ctx, videoPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe video: %w", err)
	}

	outPath := s.CreateTempFile(uuid.New().String() + ".jpg")
	defer s.Cleanup(outPath)

	args := []string{
		"-ss", strconv.FormatFloat(seekPoint(duration), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-c:v", "mjpeg",
		"-f", "image2",
		"-y",
		outPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Warn("thumbnail extraction failed", zap.String("output", truncateString(string(out), 500)))
		return "", fmt.Errorf("ffmpeg thumbnail failed: %w", err)
	}

	jpeg, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to read thumbnail: %w", err)
	}
	if len(jpeg) == 0 {
		return "", fmt.Errorf("ffmpeg produced an empty thumbnail")
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg), nil
}

// seekPoint clamps the thumbnail position to the last frame of short videos.
func seekPoint(durationSec float64) float64 {
	if durationSec > thumbnailSeekSec+lastFrameMargin {
		return thumbnailSeekSec
	}
	if seek := durationSec - lastFrameMargin; seek > 0 {
		return seek
	}
	return 0
}

func (s *FFmpegService) stage(data []byte, ext string) (string, error) {
	path := s.CreateTempFile(uuid.New().String() + "." + ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to stage media: %w", err)
	}
	return path, nil
}

// CreateTempFile returns a path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
