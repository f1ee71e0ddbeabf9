// Package capture grabs a single still frame from an RTSP camera through ffmpeg.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/i474232898/webcam-capture/internal/common"
)

// Reason classifies why a capture failed.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonAuth        Reason = "auth"
	ReasonUnreachable Reason = "unreachable"
	ReasonExit        Reason = "exit"
	ReasonEmpty       Reason = "empty"
	ReasonTooLarge    Reason = "too_large"
	ReasonSpawn       Reason = "spawn"
)

var (
	// ErrOutputTooLarge is returned when ffmpeg writes more than the configured cap.
	ErrOutputTooLarge = errors.New("ffmpeg output exceeds limit")
	errNoOutput       = errors.New("ffmpeg produced no output")
)

// Error describes a failed capture.
type Error struct {
	Reason Reason
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("capture %s: %v: %s", e.Reason, e.Err, e.Stderr)
	}
	return fmt.Sprintf("capture %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures the ffmpeg invocation.
type Options struct {
	Binary         string
	URL            string
	User           string
	Password       string
	ExtraArgs      string
	Timeout        time.Duration
	MaxOutputBytes int64
}

// FFmpeg captures frames by running one ffmpeg process per capture.
type FFmpeg struct {
	binary   string
	args     []string
	redacted string
	rawURLs  []string
	password []string
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
}

// NewFFmpeg validates the options and prepares the ffmpeg argument list.
func NewFFmpeg(opts Options, logger *zap.Logger) (*FFmpeg, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 20 << 20
	}

	streamURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse camera url: %w", err)
	}
	if opts.User != "" {
		streamURL.User = url.UserPassword(opts.User, opts.Password)
	}

	extra, err := shlex.Split(opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg_args: %w", err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-rtsp_transport", "tcp"}
	args = append(args, extra...)
	args = append(args, "-i", streamURL.String(), "-frames:v", "1", "-q:v", "2", "-f", "image2", "pipe:1")

	var rawURLs, password []string
	if streamURL.User != nil {
		rawURLs = []string{streamURL.String(), opts.URL}
		if pw, ok := streamURL.User.Password(); ok && pw != "" {
			escaped := strings.TrimPrefix(url.UserPassword("", pw).String(), ":")
			password = []string{escaped, pw}
		}
	}

	return &FFmpeg{
		binary:   opts.Binary,
		args:     args,
		redacted: streamURL.Redacted(),
		rawURLs:  rawURLs,
		password: password,
		timeout:  opts.Timeout,
		maxBytes: opts.MaxOutputBytes,
		logger:   logger.Named("capture"),
	}, nil
}

// Args returns the ffmpeg argument list (including credentials).
func (f *FFmpeg) Args() []string {
	return append([]string(nil), f.args...)
}

// Check verifies the ffmpeg binary can be found.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Capture runs ffmpeg and returns the encoded frame.
func (f *FFmpeg) Capture(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	stdout := &limitedBuffer{max: f.maxBytes}
	stderr := &tailBuffer{max: 64 << 10}

	cmd := exec.CommandContext(ctx, f.binary, f.args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	f.logger.Debug("ffmpeg finished",
		zap.String("camera", f.redacted),
		zap.Duration("took", time.Since(start)),
		zap.Int("bytes", stdout.buf.Len()),
		zap.Error(err),
	)

	switch {
	case stdout.overflow:
		return nil, &Error{Reason: ReasonTooLarge, Err: fmt.Errorf("%w (%d bytes)", ErrOutputTooLarge, f.maxBytes)}
	case ctx.Err() == context.DeadlineExceeded:
		return nil, &Error{Reason: ReasonTimeout, Err: fmt.Errorf("ffmpeg timeout after %s", f.timeout)}
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &Error{Reason: ReasonSpawn, Err: err}
		}
		tail := f.redact(common.Tail(stderr.String(), 512))
		return nil, &Error{Reason: classify(tail), Stderr: tail, Err: err}
	case stdout.buf.Len() == 0:
		return nil, &Error{Reason: ReasonEmpty, Err: errNoOutput}
	}
	return stdout.buf.Bytes(), nil
}

func classify(stderr string) Reason {
	switch {
	case common.ContainsAnyFold(stderr, "401", "unauthorized", "authorization failed"):
		return ReasonAuth
	case common.ContainsAnyFold(stderr, "connection refused", "no route to host", "timed out",
		"could not resolve", "network is unreachable", "name or service not known"):
		return ReasonUnreachable
	default:
		return ReasonExit
	}
}

// redact replaces the credential-bearing camera URL and the password itself
// with the redacted URL form.
func (f *FFmpeg) redact(s string) string {
	for _, u := range f.rawURLs {
		s = strings.ReplaceAll(s, u, f.redacted)
	}
	for _, pw := range f.password {
		s = strings.ReplaceAll(s, pw, "xxxxx")
	}
	return s
}

// limitedBuffer stops accepting data past max bytes and reports an error so
// ffmpeg stops writing.
type limitedBuffer struct {
	buf      bytes.Buffer
	max      int64
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len()+len(p)) <= b.max {
		return b.buf.Write(p)
	}
	b.overflow = true
	return 0, ErrOutputTooLarge
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= b.max {
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		return n, nil
	}
	if drop := len(b.buf) + n - b.max; drop > 0 {
		b.buf = append(b.buf[:0], b.buf[drop:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
