package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/vision"
)

const maxFrameSize = 10 * 1024 * 1024

// FFmpegOpener opens cameras by piping MJPEG frames out of an ffmpeg
// process. It handles device indexes, V4L2 device paths, files, RTSP and
// HTTP sources.
type FFmpegOpener struct {
	Binary       string
	YTDLPBinary  string
	Width        int
	ReadTimeout  time.Duration
	ProbeTimeout time.Duration
}

func (o *FFmpegOpener) binary() string {
	if o.Binary == "" {
		return "ffmpeg"
	}
	return o.Binary
}

// Probe grabs a single frame from source.
func (o *FFmpegOpener) Probe(ctx context.Context, source string) error {
	timeout := o.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	source, err := o.resolve(ctx, source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	args := append(inputArgs(source), outputArgs(o.Width)...)
	args = append(args[:len(args)-1], "-frames:v", "1", "pipe:1")

	out, err := exec.CommandContext(ctx, o.binary(), args...).Output()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProbeFailed, source, err)
	}
	if !bytes.HasPrefix(out, []byte{0xFF, 0xD8}) {
		return fmt.Errorf("%w: %s: no jpeg frame in output", ErrProbeFailed, source)
	}
	return nil
}

// Open starts the ffmpeg process. The process lives until Close is called
// or ctx is cancelled.
func (o *FFmpegOpener) Open(ctx context.Context, source string) (Source, error) {
	source, err := o.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)

	args := append(inputArgs(source), outputArgs(o.Width)...)
	cmd := exec.CommandContext(ctx, o.binary(), args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &ffmpegSource{
		cmd:         cmd,
		cancel:      cancel,
		frames:      make(chan []byte, 1),
		done:        make(chan struct{}),
		readTimeout: o.ReadTimeout,
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Debug("ffmpeg stderr", "source", source, "output", scanner.Text())
		}
	}()

	go s.pump(ctx, stdout)
	return s, nil
}

type ffmpegSource struct {
	cmd         *exec.Cmd
	cancel      context.CancelFunc
	frames      chan []byte
	done        chan struct{}
	readTimeout time.Duration
	pumpErr     error
	closeOnce   sync.Once
	closeErr    error
}

func (s *ffmpegSource) pump(ctx context.Context, r io.Reader) {
	defer close(s.done)
	defer close(s.frames)

	s.pumpErr = readJPEGFrames(r, func(frame []byte) bool {
		select {
		case s.frames <- frame:
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (s *ffmpegSource) ReadFrame(ctx context.Context) (image.Image, error) {
	var timeout <-chan time.Time
	if s.readTimeout > 0 {
		t := time.NewTimer(s.readTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case data, ok := <-s.frames:
		if !ok {
			if s.pumpErr != nil {
				return nil, s.pumpErr
			}
			return nil, io.EOF
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrReadTimeout
	}
}

// Close kills ffmpeg and waits for it to exit.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = fmt.Errorf("wait ffmpeg: %w", err)
		}
	})
	return s.closeErr
}

// inputArgs maps a camera source onto ffmpeg input flags. A bare number is
// a V4L2 device index.
func inputArgs(source string) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	if _, err := strconv.Atoi(source); err == nil {
		source = "/dev/video" + source
	}

	switch {
	case strings.HasPrefix(source, "/dev/video"):
		args = append(args, "-f", "v4l2")
	case strings.HasPrefix(source, "rtsp://"), strings.HasPrefix(source, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	default:
		// files are played back at their native rate
		args = append(args, "-re")
	}
	return append(args, "-i", source)
}

func outputArgs(width int) []string {
	var args []string
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-1", width))
	}
	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// readJPEGFrames splits a stream of concatenated JPEG images. It stops when
// emit returns false or the stream ends.
func readJPEGFrames(r io.Reader, emit func(frame []byte) bool) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	for {
		if err := findJPEGStart(reader); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame, err := readUntilJPEGEnd(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if !emit(frame) {
			return nil
		}
	}
}

// findJPEGStart consumes the stream up to and including the next SOI
// marker. Any number of 0xFF fill bytes may precede a marker.
func findJPEGStart(r *bufio.Reader) error {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}

// readUntilJPEGEnd returns one image whose SOI was already consumed, ending
// with its EOI marker.
func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	frame := []byte{0xFF, 0xD8}
	var prev byte
	for len(frame) <= maxFrameSize {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		prev = b
	}
	return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(frame))
}
