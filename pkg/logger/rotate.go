package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// backupLayout 使备份文件名按字典序即按时间排序。
const backupLayout = "20060102T150405.000000000"

// rotatingWriter 按大小切分审计日志，备份文件名形如 audit-<时间戳>.log。
type rotatingWriter struct {
	mu         sync.Mutex
	path       string
	prefix     string
	ext        string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	now        func() time.Time

	file    *os.File
	written int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	ext := filepath.Ext(path)
	return &rotatingWriter{
		path:       path,
		prefix:     strings.TrimSuffix(path, ext) + "-",
		ext:        ext,
		maxBytes:   int64(max(maxSizeMB, 1)) << 20,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		now:        time.Now,
	}, nil
}

// Write 在写入前检查容量，单条记录超过上限时仍写入新文件。
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.written > 0 && w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *rotatingWriter) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	w.file = nil
	w.written = 0

	backup := w.prefix + w.now().UTC().Format(backupLayout) + w.ext
	if err := os.Rename(w.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return w.open()
}

// backups 返回按时间从旧到新排列的备份文件。
func (w *rotatingWriter) backups() []string {
	matches, err := filepath.Glob(w.prefix + "*" + w.ext)
	if err != nil {
		return nil
	}
	slices.Sort(matches)
	return matches
}

// prune 删除超出数量或超过保留期的备份。
func (w *rotatingWriter) prune() {
	files := w.backups()
	if w.maxBackups > 0 && len(files) > w.maxBackups {
		for _, f := range files[:len(files)-w.maxBackups] {
			_ = os.Remove(f)
		}
		files = files[len(files)-w.maxBackups:]
	}
	if w.maxAge <= 0 {
		return
	}
	cutoff := w.now().Add(-w.maxAge)
	for _, f := range files {
		stamp := strings.TrimSuffix(strings.TrimPrefix(f, w.prefix), w.ext)
		at, err := time.Parse(backupLayout, stamp)
		if err == nil && at.Before(cutoff) {
			_ = os.Remove(f)
		}
	}
}
