package telemetry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
)

// Sink owns the log files behind a logger.
type Sink struct {
	files    []*rotatingFile
	compress bool
}

// Paths returns the live log file paths.
func (s *Sink) Paths() []string {
	out := make([]string, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.path)
	}
	return out
}

// Rotate moves every log file aside as <name>.<YYYY-MM-DD>.log, stamped
// with day, gzips it when compression is on, and reopens a fresh file.
func (s *Sink) Rotate(day time.Time) error {
	var errs []error
	for _, f := range s.files {
		rotated, err := f.rotate(day)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s.compress && rotated != "" {
			if err := gzipFile(rotated); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StartRotation rotates the files every midnight, stamping them with the day
// that just ended. The returned function stops the schedule.
func (s *Sink) StartRotation(logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	_, err := c.AddFunc("@midnight", func() {
		if err := s.Rotate(time.Now().AddDate(0, 0, -1)); err != nil {
			logger.Error("log rotation failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule log rotation: %w", err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (s *Sink) Close() error {
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RotatedName returns the name a log file gets when rotated for day.
func RotatedName(path string, day time.Time) string {
	return strings.TrimSuffix(path, ".log") + "." + day.Format("2006-01-02") + ".log"
}

type rotatingFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openRotatingFile(path string) (*rotatingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &rotatingFile{path: path, f: f}, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	return r.f.Write(p)
}

// rotate returns the rotated path, or "" when the file was empty.
func (r *rotatingFile) rotate(day time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return "", os.ErrClosed
	}
	info, err := r.f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}
	if err := r.f.Close(); err != nil {
		return "", err
	}
	rotated := RotatedName(r.path, day)
	renameErr := os.Rename(r.path, rotated)
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.f = nil
		return "", errors.Join(renameErr, err)
	}
	r.f = f
	if renameErr != nil {
		return "", fmt.Errorf("rotate %s: %w", r.path, renameErr)
	}
	return rotated, nil
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		_ = out.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
