package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxSizeMB  = 20
	defaultMaxAgeDays = 3
	rotatedTimeFormat = "20060102-150405"
)

// rotatingFile appends JSON lines to a file, renaming it aside once it grows
// past maxSize and pruning rotated copies older than maxAge.
type rotatingFile struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	maxSize int64
	maxAge  time.Duration
}

func EnableFileLogging(filePath string) error {
	return EnableFileLoggingWithRotation(filePath, defaultMaxSizeMB, defaultMaxAgeDays)
}

func EnableFileLoggingWithRotation(filePath string, maxSizeMB, maxAgeDays int) error {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	if err := fileSink.open(filePath, int64(maxSizeMB)*1024*1024, time.Duration(maxAgeDays)*24*time.Hour); err != nil {
		return err
	}
	InfoCF("logger", "File logging enabled", map[string]interface{}{"path": filePath})
	return nil
}

func DisableFileLogging() {
	fileSink.close()
}

func (r *rotatingFile) open(path string, maxSize int64, maxAge time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		r.file.Close()
	}
	r.file = file
	r.path = path
	r.maxSize = maxSize
	r.maxAge = maxAge
	if err := r.pruneLocked(); err != nil {
		log.Println("Failed to clean up old log files:", err)
	}
	return nil
}

func (r *rotatingFile) enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}

func (r *rotatingFile) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		r.file.Close()
		r.file = nil
		r.path = ""
	}
}

func (r *rotatingFile) write(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	if r.maxSize > 0 {
		if err := r.rotateLocked(int64(len(line))); err != nil {
			return err
		}
	}
	_, err := r.file.Write(line)
	return err
}

func (r *rotatingFile) rotateLocked(nextWrite int64) error {
	info, err := r.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 || info.Size()+nextWrite <= r.maxSize {
		return nil
	}

	if err := r.file.Close(); err != nil {
		return err
	}
	rotated := r.path + "." + time.Now().UTC().Format(rotatedTimeFormat)
	if err := os.Rename(r.path, rotated); err != nil {
		return err
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		r.file = nil
		return err
	}
	r.file = file
	return r.pruneLocked()
}

// pruneLocked removes rotated copies such as wepush.log.20260213-120000 that
// are older than maxAge.
func (r *rotatingFile) pruneLocked() error {
	if r.maxAge <= 0 || r.path == "" {
		return nil
	}

	dir := filepath.Dir(r.path)
	prefix := filepath.Base(r.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-r.maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
