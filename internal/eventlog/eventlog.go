// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package eventlog ships the per-turn conversation log to its sinks: the
// SQL store and, when brokers are configured, a Kafka topic.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// ErrClosed is returned by writes on a closed sink.
var ErrClosed = errors.New("event log sink closed")

// Sink receives one log per turn.
type Sink interface {
	Write(ctx context.Context, l types.ConversationLog) error
	Close() error
}

// LogStore is the SQL side of the event log.
type LogStore interface {
	AppendLog(ctx context.Context, l types.ConversationLog) error
}

// SQLSink writes logs through a LogStore.
type SQLSink struct {
	store LogStore
}

// NewSQLSink returns a sink over store.
func NewSQLSink(store LogStore) *SQLSink {
	return &SQLSink{store: store}
}

// Write implements Sink.
func (s *SQLSink) Write(ctx context.Context, l types.ConversationLog) error {
	return s.store.AppendLog(ctx, l)
}

// Close implements Sink. The store is owned by the caller.
func (s *SQLSink) Close() error { return nil }

// MessageWriter is the part of kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each log as a JSON message keyed by session id.
type KafkaSink struct {
	writer MessageWriter
	mu     sync.Mutex
	closed bool
}

// NewKafkaSink builds a sink writing to cfg.Topic on cfg.Brokers.
func NewKafkaSink(cfg types.EventLogConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink needs brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaSinkWithWriter(w), nil
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Write implements Sink.
func (k *KafkaSink) Write(ctx context.Context, l types.ConversationLog) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	value, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encoding conversation log: %w", err)
	}
	msg := kafka.Message{Key: []byte(l.SessionID), Value: value}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing conversation log %s: %w", l.UID, err)
	}
	return nil
}

// Close implements Sink.
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}

// Tee fans a log out to several sinks. A failing sink is logged and does
// not stop the others.
type Tee struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewTee returns a sink writing to every non-nil sink.
func NewTee(logger *zap.Logger, sinks ...Sink) *Tee {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tee{logger: logger}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

// Write implements Sink. It returns the joined errors of failing sinks.
func (t *Tee) Write(ctx context.Context, l types.ConversationLog) error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.Write(ctx, l); err != nil {
			t.logger.Warn("conversation log write failed",
				zap.String("session", l.SessionID),
				zap.String("uid", l.UID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (t *Tee) Close() error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
