package appendlog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryLog is an in-memory Log for tests and development.
type MemoryLog struct {
	mu   sync.Mutex
	logs map[string]*memLog
}

type memLog struct {
	data  []byte
	token string
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{logs: map[string]*memLog{}}
}

func (m *MemoryLog) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.logs[name]
	return ok, nil
}

func (m *MemoryLog) Append(_ context.Context, name, token string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.logs[name]
	if !ok {
		l = &memLog{}
		m.logs[name] = l
	}
	if l.token != token {
		return "", ErrTokenMismatch
	}

	framed, err := EncodeFrame(payload)
	if err != nil {
		return "", err
	}
	l.data = append(l.data, framed...)
	l.token = uuid.NewString()
	return l.token, nil
}

func (m *MemoryLog) Read(_ context.Context, name string, offset int64) ([]Record, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.logs[name]
	if !ok {
		return nil, "", ErrLogNotFound
	}
	if offset < 0 || offset > int64(len(l.data)) {
		return nil, "", ErrOffsetOutOfSync
	}

	var (
		records []Record
		rest    = l.data[offset:]
		pos     = offset
	)
	for len(rest) > 0 {
		payload, next, err := DecodeFrame(rest)
		if err != nil {
			return nil, "", err
		}
		records = append(records, Record{Offset: pos, Payload: payload})
		pos += int64(FrameSize + len(payload))
		rest = next
	}
	return records, l.token, nil
}

var _ Log = (*MemoryLog)(nil)
