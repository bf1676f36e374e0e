package accesslog

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	MaxLogSize        = 10 * 1024 * 1024 // 10MB
	MaxLogFiles       = 5
	LogFilePermission = 0o600
	LogDirPermission  = 0o700

	currentLogName = "access.log"
)

// Op is the file API operation of an entry
type Op string

const (
	OpList     Op = "list"
	OpUpload   Op = "upload"
	OpDownload Op = "download"
	OpDelete   Op = "delete"
)

// Entry is one line of a user's access log
type Entry struct {
	Timestamp  time.Time     `json:"timestamp"`
	User       string        `json:"user"`
	Op         Op            `json:"op"`
	Root       string        `json:"root,omitempty"`
	Path       string        `json:"path,omitempty"`
	StatusCode int           `json:"status_code"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	IP         string        `json:"ip"`
	UserAgent  string        `json:"user_agent"`
}

// AccessLogger appends entries to one rotating JSON lines file per user
type AccessLogger struct {
	baseDir  string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	writers map[string]*userLogWriter
	closed  bool
}

var ErrClosed = errors.New("access log closed")

func New(baseDir string) (*AccessLogger, error) {
	if err := os.MkdirAll(baseDir, LogDirPermission); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &AccessLogger{
		baseDir:  baseDir,
		maxSize:  MaxLogSize,
		maxFiles: MaxLogFiles,
		writers:  make(map[string]*userLogWriter),
	}, nil
}

func (al *AccessLogger) Write(entry *Entry) error {
	if entry.User == "" {
		entry.User = "anonymous"
	}

	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		return ErrClosed
	}
	writer, ok := al.writers[entry.User]
	if !ok {
		writer = &userLogWriter{
			dir:      filepath.Join(al.baseDir, sanitizeUsername(entry.User)),
			maxSize:  al.maxSize,
			maxFiles: al.maxFiles,
		}
		al.writers[entry.User] = writer
	}
	al.mu.Unlock()

	return writer.write(entry)
}

func (al *AccessLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.closed = true
	var errs []error
	for _, w := range al.writers {
		errs = append(errs, w.close())
	}
	return errors.Join(errs...)
}

// UserLogs returns up to limit of the most recent entries of user, oldest first
func (al *AccessLogger) UserLogs(user string, limit int) ([]*Entry, error) {
	dir := filepath.Join(al.baseDir, sanitizeUsername(user))
	names, err := logFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []*Entry
	// newest file first: the current log, then rotated logs by descending name
	for i := len(names) - 1; i >= 0 && len(entries) < limit; i-- {
		fileEntries, err := readLogFile(filepath.Join(dir, names[i]))
		if err != nil {
			slog.Warn("access log unreadable", "file", names[i], "error", err)
			continue
		}
		entries = append(fileEntries, entries...)
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

type userLogWriter struct {
	mu       sync.Mutex
	dir      string
	maxSize  int64
	maxFiles int
	file     *os.File
	size     int64
}

func (w *userLogWriter) write(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	if w.size > 0 && w.size+int64(len(data)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := w.file.Write(data)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

func (w *userLogWriter) open() error {
	if err := os.MkdirAll(w.dir, LogDirPermission); err != nil {
		return fmt.Errorf("failed to create user log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, LogFilePermission)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = file
	w.size = stat.Size()
	return nil
}

// rotate renames the current log to access_<timestamp>.log and keeps at most maxFiles files
func (w *userLogWriter) rotate() error {
	if err := w.close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("access_%s.log", time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(filepath.Join(w.dir, currentLogName), filepath.Join(w.dir, rotated)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	names, err := logFiles(w.dir)
	if err != nil {
		return err
	}
	// the current log is last in names and is always kept
	for len(names) > w.maxFiles {
		if err := os.Remove(filepath.Join(w.dir, names[0])); err != nil {
			return fmt.Errorf("failed to remove old log file: %w", err)
		}
		names = names[1:]
	}

	return w.open()
}

func (w *userLogWriter) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

// logFiles lists rotated logs oldest first followed by the current log
func logFiles(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rotated []string
	current := false
	for _, e := range dirEntries {
		switch name := e.Name(); {
		case e.IsDir():
		case name == currentLogName:
			current = true
		case strings.HasPrefix(name, "access_") && filepath.Ext(name) == ".log":
			rotated = append(rotated, name)
		}
	}
	sort.Strings(rotated)
	if current {
		rotated = append(rotated, currentLogName)
	}
	return rotated, nil
}

func readLogFile(path string) ([]*Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

// sanitizeUsername converts a username to a filesystem-safe string
func sanitizeUsername(user string) string {
	result := make([]byte, 0, len(user))
	for i := 0; i < len(user); i++ {
		c := user[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '@' || c == '.' || c == '-' || c == '_' {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}
	return string(result)
}
