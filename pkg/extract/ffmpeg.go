// Package extract renders single-frame JPEG thumbnails from video files
// by shelling out to FFmpeg.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jacktea/clipview/pkg/xerrors"
)

// Options configures an FFmpeg extractor. Zero values fall back to the
// defaults below.
type Options struct {
	Binary  string        // ffmpeg binary, default "ffmpeg"
	Seek    time.Duration // seek offset into the clip, default 5s
	Quality int           // JPEG quality for -q:v, default 2
	Timeout time.Duration // per-invocation limit, default 30s
	Logf    func(format string, args ...any)
}

// FFmpeg extracts frames via an external FFmpeg process.
type FFmpeg struct {
	binary  string
	seek    time.Duration
	quality int
	timeout time.Duration
	logf    func(string, ...any)
}

// New returns an extractor with defaults applied.
func New(opts Options) *FFmpeg {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Seek <= 0 {
		opts.Seek = 5 * time.Second
	}
	if opts.Quality <= 0 {
		opts.Quality = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &FFmpeg{
		binary:  opts.Binary,
		seek:    opts.Seek,
		quality: opts.Quality,
		timeout: opts.Timeout,
		logf:    logf,
	}
}

// Check verifies the binary is runnable.
func (f *FFmpeg) Check(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.binary, "-version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return xerrors.Wrap(xerrors.KindExtraction, "FFmpeg.Check", f.binary, err)
	}
	return nil
}

// Extract renders one frame of source into target. The frame is written
// to a private temp file and renamed into place only on success, so a
// failed or timed-out extraction never leaves a partial file at target.
func (f *FFmpeg) Extract(ctx context.Context, source, target string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".extract-*.jpg")
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "FFmpeg.Extract", target, err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	args := []string{
		"-ss", fmt.Sprintf("%.1f", f.seek.Seconds()),
		"-i", source,
		"-ss", "0",
		"-vframes", "1",
		"-q:v", fmt.Sprintf("%d", f.quality),
		"-y",
		tmpName,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = &stderr
	// Run ffmpeg in its own process group and kill the whole group on
	// cancellation. Killing only the direct child can leave helper
	// processes holding the stderr pipe open, which would keep Run
	// blocked past the deadline. WaitDelay bounds the pipe drain if
	// anything survives the group kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		for _, line := range strings.Split(stderr.String(), "\n") {
			if line != "" {
				f.logf("ffmpeg: %s", line)
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return xerrors.Wrap(xerrors.KindExtraction, "FFmpeg.Extract", source, ctx.Err())
		}
		return xerrors.Wrap(xerrors.KindExtraction, "FFmpeg.Extract", source, err)
	}

	info, err := os.Stat(tmpName)
	if err != nil || info.Size() == 0 {
		return xerrors.E(xerrors.KindExtraction, "FFmpeg.Extract", source)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "FFmpeg.Extract", target, err)
	}
	return nil
}
