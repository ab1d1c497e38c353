package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetention is how long CleanObsolete keeps report files.
const DefaultRetention = 48 * time.Hour

const (
	filePrefix     = "looper-"
	fileSuffix     = ".log"
	fileTimeLayout = "2006-01-02_15-04-05.000"
	headerLayout   = "2006-01-02 15:04:05"
)

// Writer saves reports as text files in one directory. Saving and deleting
// are serialised.
type Writer struct {
	dir string
	log *zap.Logger
	now func() time.Time
	mu  sync.Mutex
}

func NewWriter(dir string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{dir: dir, log: log.Named("writer"), now: time.Now}
}

func (w *Writer) Dir() string {
	return w.dir
}

// OnBlock saves info, logging rather than returning any failure.
func (w *Writer) OnBlock(info *BlockInfo) {
	if _, err := w.Save(info.String()); err != nil {
		w.log.Error("save block report", zap.Error(err))
	}
}

// Save writes body to a new file named after the current time and returns
// its path. The directory is created if it does not already exist.
func (w *Writer) Save(body string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	now := w.now()
	path := filepath.Join(w.dir, filePrefix+now.Format(fileTimeLayout)+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}

	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "\n**********************\n%s(write log time)\n\n", now.Format(headerLayout))
	bw.WriteString(body)
	bw.WriteString("\n")

	if err := bw.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	return path, nil
}

// Files lists saved reports, oldest first.
func (w *Writer) Files() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(w.dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// CleanObsolete removes reports last modified more than retention ago and
// returns how many were removed.
func (w *Writer) CleanObsolete(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	files, err := w.Files()
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for _, path := range files {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) <= retention {
			continue
		}
		if err := os.Remove(path); err != nil {
			w.log.Warn("remove obsolete report", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// DeleteAll removes every saved report.
func (w *Writer) DeleteAll() error {
	files, err := w.Files()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete report: %w", err)
		}
	}
	return nil
}
