package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultMaxSizeMB = 100

// RotatingWriter appends to a file and rolls it to path.1 .. path.N once it
// would grow past maxSize.
type RotatingWriter struct {
	path       string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	return newRotatingWriter(path, int64(maxSizeMB)*1024*1024, maxBackups)
}

func newRotatingWriter(path string, maxSize int64, maxBackups int) (*RotatingWriter, error) {
	if path == "" {
		return nil, errors.New("log file path is required")
	}
	if maxBackups < 0 {
		maxBackups = 0
	}
	w := &RotatingWriter{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := w.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(os.O_APPEND); err != nil {
			return 0, err
		}
	}
	if w.maxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *RotatingWriter) open(mode int) error {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	if w.maxBackups == 0 {
		_ = os.Remove(w.path)
	} else {
		for i := w.maxBackups - 1; i >= 1; i-- {
			_ = renameIfExists(w.backup(i), w.backup(i+1))
		}
		_ = renameIfExists(w.path, w.backup(1))
	}
	return w.open(os.O_TRUNC)
}

func (w *RotatingWriter) backup(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}

func renameIfExists(from, to string) error {
	if _, err := os.Stat(from); err != nil {
		return err
	}
	return os.Rename(from, to)
}
