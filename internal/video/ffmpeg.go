package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// FFmpegWrapper runs ffmpeg and ffprobe for decoding sources and encoding
// recordings.
type FFmpegWrapper struct {
	logger          *logger.Logger
	ffmpegPath      string
	ffprobePath     string
	jpegQuality     int
	availableCodecs map[string]bool
	mu              sync.RWMutex
}

// NewFFmpegWrapper locates ffmpeg, preferring configuredPath when given.
func NewFFmpegWrapper(configuredPath string, log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:          log,
		jpegQuality:     5,
		availableCodecs: make(map[string]bool),
	}

	ffmpegPath, err := detectBinary(configuredPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	// ffprobe normally sits next to ffmpeg.
	sibling := filepath.Join(filepath.Dir(ffmpegPath), "ffprobe")
	if filepath.Dir(ffmpegPath) == "." {
		sibling = ""
	}
	if probePath, err := detectBinary(sibling, "ffprobe"); err == nil {
		wrapper.ffprobePath = probePath
	} else {
		log.Warn("ffprobe not found, source frame rates will fall back to the target rate", "error", err)
	}

	codecs, err := wrapper.detectEncoders()
	if err != nil {
		log.Warn("Failed to detect encoders", "error", err)
	} else {
		wrapper.availableCodecs = codecs
	}

	log.Info("FFmpeg wrapper initialized",
		"ffmpeg", wrapper.ffmpegPath,
		"ffprobe", wrapper.ffprobePath,
		"encoders", len(wrapper.availableCodecs),
	)

	return wrapper, nil
}

func detectBinary(configured, name string) (string, error) {
	paths := []string{name, "/usr/bin/" + name, "/usr/local/bin/" + name}
	if configured != "" {
		paths = append([]string{configured}, paths...)
	}

	for _, path := range paths {
		if err := exec.Command(path, "-version").Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

func (f *FFmpegWrapper) detectEncoders() (map[string]bool, error) {
	output, err := exec.Command(f.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list encoders: %w", err)
	}

	codecs := make(map[string]bool)
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "V") {
			continue
		}
		if parts := strings.Fields(line); len(parts) > 1 {
			codecs[parts[1]] = true
		}
	}
	return codecs, nil
}

// IsCodecAvailable checks if an encoder is available
func (f *FFmpegWrapper) IsCodecAvailable(codec string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.availableCodecs[codec]
}

// Path returns the ffmpeg executable in use.
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// BuildCommand builds an ffmpeg command bound to ctx.
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

// ProbeFrameRate reports the average frame rate of the first video stream.
// Zero is returned when the container does not advertise one.
func (f *FFmpegWrapper) ProbeFrameRate(ctx context.Context, input string) (float64, error) {
	if f.ffprobePath == "" {
		return 0, errors.New("ffprobe not available")
	}

	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w (%s)", input, err, strings.TrimSpace(stderr.String()))
	}
	return parseFrameRate(strings.TrimSpace(string(output)))
}

// parseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func parseFrameRate(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	num, den, isFraction := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	if !isFraction {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}

// OpenMJPEG starts ffmpeg decoding input into a stream of JPEG images.
// inputArgs are placed before -i.
func (f *FFmpegWrapper) OpenMJPEG(ctx context.Context, input string, inputArgs ...string) (FrameStream, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, inputArgs...)
	args = append(args,
		"-i", input,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(f.jpegQuality),
		"-",
	)

	cmd := f.BuildCommand(ctx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &boundedBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg decoder: %w", err)
	}

	return &ffmpegStream{cmd: cmd, stdout: stdout, reader: NewJPEGReader(stdout), stderr: stderr}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *JPEGReader
	stderr *boundedBuffer
	once   sync.Once
	err    error
}

func (s *ffmpegStream) Next() ([]byte, error) {
	return s.reader.Next()
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		_ = s.stdout.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		// A killed decoder is the normal way to stop early.
		if err != nil && !errors.As(err, &exitErr) {
			s.err = err
		}
	})
	return s.err
}

// StartEncoder starts ffmpeg reading JPEG images on stdin and writing an
// encoded video to output.
func (f *FFmpegWrapper) StartEncoder(output string, frameRate float64, codec string, quality int) (EncoderProcess, error) {
	if codec == "" {
		codec = "libx264"
	}
	if !f.IsCodecAvailable(codec) && len(f.availableCodecs) > 0 {
		f.logger.Warn("Encoder not reported by ffmpeg, falling back to mpeg4", "codec", codec)
		codec = "mpeg4"
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe",
		"-framerate", strconv.FormatFloat(frameRate, 'f', 3, 64),
		"-c:v", "mjpeg",
		"-i", "-",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
	}
	if codec == "libx264" || codec == "libx265" {
		args = append(args, "-crf", strconv.Itoa(quality), "-preset", "veryfast")
	}
	args = append(args, "-movflags", "+faststart", output)

	// Recording must outlive the request that opened it; Close ends it.
	cmd := exec.Command(f.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stderr := &boundedBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}
	return &ffmpegEncoder{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *boundedBuffer
}

func (e *ffmpegEncoder) Write(p []byte) (int, error) {
	return e.stdin.Write(p)
}

func (e *ffmpegEncoder) Close() error {
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder: %w (%s)", err, strings.TrimSpace(e.stderr.String()))
	}
	return nil
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
