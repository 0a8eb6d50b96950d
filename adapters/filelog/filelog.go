// Package filelog implements ports/appendlog.Log over plain files, one file
// per log name. The append token is the file size in decimal, so a token
// mismatch detects any concurrent extension of the file.
package filelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/egil/evstore/ports/appendlog"
	"github.com/golang/snappy"
)

type Config struct {
	Dir      string
	Compress bool         // snappy-compress record payloads
	Log      *slog.Logger // optional
}

type Log struct {
	dir      string
	compress bool
	log      *slog.Logger

	mu sync.Mutex
}

func New(cfg Config) (*Log, error) {
	if cfg.Dir == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Log{
		dir:      cfg.Dir,
		compress: cfg.Compress,
		log:      log.With(slog.String("log", "file"), slog.String("dir", cfg.Dir)),
	}, nil
}

func (l *Log) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(l.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *Log) Append(_ context.Context, name, token string, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size, err := l.size(name)
	if err != nil {
		return "", err
	}
	want := int64(0)
	if token != "" {
		want, err = strconv.ParseInt(token, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: bad token %q", appendlog.ErrTokenMismatch, token)
		}
	}
	if size != want {
		return "", fmt.Errorf("%w: log is at %d, token says %d", appendlog.ErrTokenMismatch, size, want)
	}

	if l.compress {
		payload = snappy.Encode(nil, payload)
	}
	framed, err := appendlog.EncodeFrame(payload)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(l.path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(framed); err != nil {
		return "", fmt.Errorf("append to %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	return strconv.FormatInt(size+int64(len(framed)), 10), nil
}

func (l *Log) Read(_ context.Context, name string, offset int64) ([]appendlog.Record, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appendlog.ErrLogNotFound
		}
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, "", appendlog.ErrOffsetOutOfSync
	}

	var (
		records []appendlog.Record
		rest    = data[offset:]
		pos     = offset
	)
	for len(rest) > 0 {
		payload, next, err := appendlog.DecodeFrame(rest)
		if err != nil {
			return nil, "", fmt.Errorf("%s at offset %d: %w", name, pos, err)
		}
		stored := len(payload)
		if l.compress {
			payload, err = snappy.Decode(nil, payload)
			if err != nil {
				return nil, "", fmt.Errorf("%w: %s at offset %d: %v", appendlog.ErrCorruptRecord, name, pos, err)
			}
		}
		records = append(records, appendlog.Record{Offset: pos, Payload: payload})
		pos += int64(appendlog.FrameSize + stored)
		rest = next
	}
	return records, strconv.FormatInt(int64(len(data)), 10), nil
}

// path sanitizes the log name into a flat filename under the directory.
func (l *Log) path(name string) string {
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name)
	return filepath.Join(l.dir, safe+".log")
}

func (l *Log) size(name string) (int64, error) {
	fi, err := os.Stat(l.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

var _ appendlog.Log = (*Log)(nil)
