// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// fakeEngine echoes utterances back and records what it saw.
type fakeEngine struct {
	seen     []types.Utterance
	reloaded int
	err      error
}

func (f *fakeEngine) Resolve(_ context.Context, u types.Utterance) (*types.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.seen = append(f.seen, u)
	resp := &types.Response{Text: "echo: " + u.Text, SessionID: u.SessionID, KnowledgeID: "K1", Kind: types.KindSimple, Score: 1}
	if u.Text == "nothing" {
		resp = &types.Response{Text: ":(", SessionID: u.SessionID, NIF: true}
	}
	return resp, nil
}

func (f *fakeEngine) Reload(context.Context) error {
	f.reloaded++
	return nil
}

func TestHandler_Resolve(t *testing.T) {
	eng := &fakeEngine{}
	srv := httptest.NewServer(newHandler(eng, []string{"*"}, nil))
	defer srv.Close()

	body := `{"text": "order a pizza", "sessionId": "s1", "payload": {"size": {"response": "large"}}}`
	resp, err := http.Post(srv.URL+"/resolve", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "echo: order a pizza", out.Text)
	assert.Equal(t, "s1", out.SessionID)

	require.Len(t, eng.seen, 1)
	assert.Equal(t, "large", eng.seen[0].Payload["size"].Response)
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		eng    *fakeEngine
		body   string
		status int
	}{
		{name: "malformed body", eng: &fakeEngine{}, body: `{"text":`, status: http.StatusBadRequest},
		{name: "empty utterance", eng: &fakeEngine{}, body: `{"sessionId": "s1"}`, status: http.StatusBadRequest},
		{name: "engine failure", eng: &fakeEngine{err: errors.New("package unavailable")}, body: `{"text": "hi"}`, status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/resolve", strings.NewReader(tc.body))
			newHandler(tc.eng, []string{"*"}, nil).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			var out map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestHandler_RoutesAndCORS(t *testing.T) {
	eng := &fakeEngine{}
	h := newHandler(eng, []string{"https://chat.example.com"}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, eng.reloaded)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/resolve", strings.NewReader(`{"text": "hi"}`))
	req.Header.Set("Origin", "https://chat.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestChat(t *testing.T) {
	eng := &fakeEngine{}
	in := strings.NewReader("order a pizza\n\n/reload\nnothing\n/quit\nnever read\n")
	var out bytes.Buffer

	require.NoError(t, chat(context.Background(), eng, in, &out, "s1", true))

	require.Len(t, eng.seen, 2)
	assert.Equal(t, "s1", eng.seen[0].SessionID)
	assert.Equal(t, "nothing", eng.seen[1].Text)
	assert.Equal(t, 1, eng.reloaded)
	assert.Contains(t, out.String(), "echo: order a pizza")
	assert.Contains(t, out.String(), "K1 simple score=1.00")
	assert.Contains(t, out.String(), "knowledge reloaded")
}

func TestChat_NewSession(t *testing.T) {
	eng := &fakeEngine{}
	in := strings.NewReader("one\n/new\ntwo\n")
	var out bytes.Buffer

	require.NoError(t, chat(context.Background(), eng, in, &out, "s1", false))
	require.Len(t, eng.seen, 2)
	assert.Equal(t, "s1", eng.seen[0].SessionID)
	assert.NotEqual(t, "s1", eng.seen[1].SessionID)
}

func TestUtteranceFromFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{}
		c.Flags().String("session", "", "")
		c.Flags().String("id", "", "")
		c.Flags().StringToString("payload", nil, "")
		c.Flags().String("lang", "", "")
		c.Flags().String("expect", "", "")
		return c
	}

	c := newCmd()
	require.NoError(t, c.Flags().Parse([]string{"--id", "K2", "--payload", "size=small", "--session", "s1"}))
	u, err := utteranceFromFlags(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "K2", u.ID)
	assert.Equal(t, "s1", u.SessionID)
	assert.Equal(t, types.Answer{Response: "small"}, u.Payload["size"])

	u, err = utteranceFromFlags(newCmd(), []string{"order", "a", "pizza"})
	require.NoError(t, err)
	assert.Equal(t, "order a pizza", u.Text)

	_, err = utteranceFromFlags(newCmd(), nil)
	assert.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("brain.source", "testdata/pizzeria.json")
	v.Set("context.ttl", "2h")
	v.Set("event_log.brokers", []string{"localhost:9092"})

	cfg := engineConfig(v)
	assert.Equal(t, "testdata/pizzeria.json", cfg.Brain.Source)
	assert.Equal(t, 2*time.Hour, cfg.Context.TTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.EventLog.Brokers)
	assert.Equal(t, 0.7, cfg.Brain.Confidence)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.True(t, cfg.Normalizer.EnableFuzzy)
	assert.Equal(t, version, cfg.Version)
}
