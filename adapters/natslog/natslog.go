// Package natslog implements ports/appendlog.Log over a NATS JetStream
// stream, one subject per log name. The append token is the subject's last
// stream sequence, enforced server-side on publish, so two writers cannot
// both extend a log from the same position.
package natslog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/egil/evstore/ports/appendlog"
)

const (
	defaultStreamName    = "EVSTORE_LOG"
	defaultSubjectPrefix = "evstore.log"
)

type Config struct {
	Connect       Connector    // defaults to ConnectDefault()
	Log           *slog.Logger // optional
	StreamName    string
	SubjectPrefix string
}

type Log struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

func New(cfg Config) (*Log, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("log", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNatsCon()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	log.Debug("ensured stream")

	return &Log{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (l *Log) Close() error {
	l.js.CleanupPublisher()
	l.closeNc()
	return nil
}

func (l *Log) Exists(ctx context.Context, name string) (bool, error) {
	_, err := l.stream.GetLastMsgForSubject(ctx, l.subject(name))
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *Log) Append(ctx context.Context, name, token string, payload []byte) (string, error) {
	if len(payload) > appendlog.MaxRecordSize {
		return "", appendlog.ErrRecordTooLarge
	}

	var lastSeq uint64
	if token != "" {
		n, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: bad token %q", appendlog.ErrTokenMismatch, token)
		}
		lastSeq = n
	}

	ack, err := l.js.Publish(
		ctx, l.subject(name), payload,
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return "", fmt.Errorf("%w: %v", appendlog.ErrTokenMismatch, err)
		}
		return "", fmt.Errorf("append to %s: %w", name, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

func (l *Log) Read(ctx context.Context, name string, offset int64) ([]appendlog.Record, string, error) {
	subj := l.subject(name)

	last, err := l.stream.GetLastMsgForSubject(ctx, subj)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, "", appendlog.ErrLogNotFound
		}
		return nil, "", err
	}
	endSeq := last.Sequence

	cc, err := l.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		FilterSubjects:    []string{subj},
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, "", err
	}

	// Offsets are synthesized from the framing the other log adapters use, so
	// callers can resume by offset regardless of backing.
	var (
		records []appendlog.Record
		pos     int64
	)
outer:
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(100)
		if err != nil {
			return nil, "", err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return nil, "", err
			}
			payload := msg.Data()
			start := pos
			pos += int64(appendlog.FrameSize + len(payload))
			if start >= offset {
				if len(records) == 0 && start != offset {
					return nil, "", appendlog.ErrOffsetOutOfSync
				}
				records = append(records, appendlog.Record{Offset: start, Payload: payload})
			}
			if md.Sequence.Stream >= endSeq {
				break outer
			}
		}
		if mb.Error() != nil {
			return nil, "", mb.Error()
		}
		if empty {
			break
		}
	}

	if len(records) == 0 && offset != pos {
		return nil, "", appendlog.ErrOffsetOutOfSync
	}
	return records, strconv.FormatUint(endSeq, 10), nil
}

func (l *Log) subject(name string) string {
	return l.subjectPrefix + "." + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(name)
}

var _ appendlog.Log = (*Log)(nil)
