package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultFrameRate = 30.0
	// DefaultMaxVideoWidth is the widest clip accepted for a bank.
	DefaultMaxVideoWidth = 1920
)

// VideoInfo is the metadata of a clip.
type VideoInfo struct {
	Width     int
	Height    int
	Duration  time.Duration
	FrameRate float64
}

// FFmpegOpener decodes clips with an ffmpeg subprocess per open video.
type FFmpegOpener struct {
	FFmpegPath  string
	FFprobePath string
	// MaxWidth rejects wider clips. Zero means DefaultMaxVideoWidth.
	MaxWidth int
}

func (o *FFmpegOpener) ffmpeg() string {
	if o.FFmpegPath != "" {
		return o.FFmpegPath
	}
	return "ffmpeg"
}

func (o *FFmpegOpener) ffprobe() string {
	if o.FFprobePath != "" {
		return o.FFprobePath
	}
	return "ffprobe"
}

// Inspect reads a clip's dimensions, duration and frame rate.
func (o *FFmpegOpener) Inspect(ctx context.Context, locator string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, o.ffprobe(),
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate:format=duration",
		"-of", "json",
		locator)

	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return VideoInfo{}, fmt.Errorf("ffprobe: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return VideoInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseMetadata(out)
}

// Open inspects the clip, enforces the width limit and starts decoding.
func (o *FFmpegOpener) Open(ctx context.Context, locator string) (Video, error) {
	if _, err := exec.LookPath(o.ffmpeg()); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	info, err := o.Inspect(ctx, locator)
	if err != nil {
		return nil, err
	}

	maxWidth := o.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxVideoWidth
	}
	if info.Width > maxWidth {
		return nil, fmt.Errorf("%w: %dx%d exceeds %dpx", ErrResolutionTooHigh, info.Width, info.Height, maxWidth)
	}

	ffmpeg := o.ffmpeg()
	d := newDecoder(decoderConfig{
		width:         info.Width,
		height:        info.Height,
		duration:      info.Duration,
		frameInterval: time.Duration(float64(time.Second) / info.FrameRate),
		loop:          true,
		args: func(start time.Duration) (string, []string) {
			return ffmpeg, videoArgs(locator, start)
		},
	})
	return d, nil
}

func videoArgs(locator string, start time.Duration) []string {
	return []string{
		"-nostdin",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(start.Seconds(), 'f', 3, 64),
		"-i", locator,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
}

type metadataOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseMetadata(data []byte) (VideoInfo, error) {
	var out metadataOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream")
	}

	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video size %dx%d", s.Width, s.Height)
	}

	info := VideoInfo{
		Width:     s.Width,
		Height:    s.Height,
		FrameRate: parseFrameRate(s.RFrameRate),
	}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// parseFrameRate parses ffprobe's "num/den" rate, falling back to 30fps.
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return defaultFrameRate
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return defaultFrameRate
	}
	return n / d
}

// FFmpegCameraProvider captures devices through ffmpeg's capture inputs
// (v4l2 on Linux, avfoundation on macOS, dshow on Windows). Frames are
// scaled to Width x Height.
type FFmpegCameraProvider struct {
	FFmpegPath  string
	InputFormat string
	Width       int
	Height      int
}

// Open starts capturing device.
func (p *FFmpegCameraProvider) Open(device string) (Camera, error) {
	ffmpeg := p.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if _, err := exec.LookPath(ffmpeg); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if device == "" {
		return nil, fmt.Errorf("no camera device given")
	}

	width, height := p.Width, p.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	args := cameraArgs(p.InputFormat, device, width, height)
	d := newDecoder(decoderConfig{
		width:  width,
		height: height,
		args: func(time.Duration) (string, []string) {
			return ffmpeg, args
		},
	})
	return d, nil
}

func cameraArgs(format, device string, width, height int) []string {
	args := []string{"-nostdin", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	return append(args,
		"-i", device,
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	)
}
