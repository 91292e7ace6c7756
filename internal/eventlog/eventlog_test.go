// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bot-engine/pkg/types"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closes int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closes++
	return nil
}

type memStore struct{ logs []types.ConversationLog }

func (m *memStore) AppendLog(_ context.Context, l types.ConversationLog) error {
	m.logs = append(m.logs, l)
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w)
	l := types.ConversationLog{UID: "s1-1", SessionID: "s1", Utterance: "order a pizza", KnowledgeID: "K1"}

	require.NoError(t, sink.Write(context.Background(), l))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "s1", string(w.msgs[0].Key))

	var got types.ConversationLog
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "K1", got.KnowledgeID)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, w.closes)
	assert.ErrorIs(t, sink.Write(context.Background(), l), ErrClosed)
}

func TestNewKafkaSink_NeedsBrokers(t *testing.T) {
	_, err := NewKafkaSink(types.EventLogConfig{Topic: "turns"})
	assert.Error(t, err)
}

func TestTee_FailingSinkDoesNotStopOthers(t *testing.T) {
	broken := NewKafkaSinkWithWriter(&fakeWriter{err: errors.New("broker down")})
	store := &memStore{}
	tee := NewTee(nil, broken, nil, NewSQLSink(store))

	err := tee.Write(context.Background(), types.ConversationLog{UID: "u", SessionID: "s"})
	assert.Error(t, err)
	assert.Len(t, store.logs, 1)
	assert.NoError(t, tee.Close())
}
