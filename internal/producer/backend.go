// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/httputil"
	"github.com/pdiddy/bot-engine/internal/secrets"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Credentials are the short-lived secrets obtained by assuming a role.
type Credentials struct {
	Token   string
	Expires time.Time
}

// Invoker calls a backend target with a JSON payload. The result is a
// string or a decoded JSON value.
type Invoker interface {
	Invoke(ctx context.Context, target string, payload map[string]any, creds *Credentials) (any, error)
}

// RoleAssumer exchanges a role name for credentials.
type RoleAssumer interface {
	Assume(ctx context.Context, role string) (*Credentials, error)
}

// HTTPInvoker POSTs the payload as JSON to http(s) targets.
type HTTPInvoker struct {
	Client *http.Client
	Config types.HTTPConfig
}

// Invoke implements Invoker. Non-JSON bodies are returned as strings.
func (h *HTTPInvoker) Invoke(ctx context.Context, target string, payload map[string]any, creds *Credentials) (any, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: h.Config.Timeout}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding backend payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Config.UserAgent != "" {
		req.Header.Set("User-Agent", h.Config.UserAgent)
	}
	if creds != nil && creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, h.Config.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("calling backend %s: %w", target, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("calling backend %s: status %d", target, resp.StatusCode)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw), nil
	}
	return out, nil
}

// Func is an in-process backend.
type Func func(ctx context.Context, payload map[string]any) (any, error)

// StaticInvoker dispatches targets to registered functions.
type StaticInvoker struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewStaticInvoker returns an empty registry.
func NewStaticInvoker() *StaticInvoker {
	return &StaticInvoker{funcs: map[string]Func{}}
}

// Register binds name to fn.
func (s *StaticInvoker) Register(name string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = fn
}

// Invoke implements Invoker.
func (s *StaticInvoker) Invoke(ctx context.Context, target string, payload map[string]any, _ *Credentials) (any, error) {
	s.mu.RLock()
	fn, ok := s.funcs[target]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no backend registered as %q", target)
	}
	return fn(ctx, payload)
}

// Dispatcher sends http(s) targets to HTTP and everything else to Static.
type Dispatcher struct {
	HTTP   Invoker
	Static Invoker
}

// Invoke implements Invoker.
func (d *Dispatcher) Invoke(ctx context.Context, target string, payload map[string]any, creds *Credentials) (any, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if d.HTTP == nil {
			return nil, fmt.Errorf("no http invoker for %s", target)
		}
		return d.HTTP.Invoke(ctx, target, payload, creds)
	}
	if d.Static == nil {
		return nil, fmt.Errorf("no static invoker for %s", target)
	}
	return d.Static.Invoke(ctx, target, payload, creds)
}

// SecretsRoleAssumer resolves roles to tokens held in the secrets
// directory. Role "arn:aws:iam::1:role/orders" reads secret "role-orders".
type SecretsRoleAssumer struct {
	Secrets map[string]string
	TTL     time.Duration
	now     func() time.Time
}

// Assume implements RoleAssumer.
func (s *SecretsRoleAssumer) Assume(_ context.Context, role string) (*Credentials, error) {
	token, ok := secrets.Role(s.Secrets, role)
	if !ok {
		return nil, fmt.Errorf("no secret %s for role %s", secrets.RoleKey(role), role)
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Credentials{Token: token, Expires: now().Add(ttl)}, nil
}

// call invokes the entry's backend, assuming its role first when declared.
func (p *Producer) call(ctx context.Context, entry *types.KnowledgeEntry, payload map[string]any) (any, error) {
	if entry.Backend == nil || entry.Backend.Target == "" {
		return nil, fmt.Errorf("%w: %s has no backend", ErrBackend, entry.ID)
	}
	if p.invoker == nil {
		return nil, fmt.Errorf("%w: no invoker configured", ErrBackend)
	}
	var creds *Credentials
	if entry.Backend.Role != "" {
		if p.roles == nil {
			return nil, fmt.Errorf("%w: role %s needs a role assumer", ErrBackend, entry.Backend.Role)
		}
		c, err := p.roles.Assume(ctx, entry.Backend.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: assuming role: %v", ErrBackend, err)
		}
		creds = c
	}
	if payload == nil {
		payload = map[string]any{}
	}
	res, err := p.invoker.Invoke(ctx, entry.Backend.Target, payload, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return res, nil
}

// backend calls the entry's backend and renders the result. Object results
// that declare an asyncConversation open an async step; st carries the
// values gathered by earlier async steps.
func (p *Producer) backend(ctx context.Context, t Turn, payload map[string]any, st *types.ConversationState) *Outcome {
	res, err := p.call(ctx, t.Entry, payload)
	if err != nil {
		return p.failure(t, err)
	}

	switch v := res.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return p.failure(t, fmt.Errorf("%w: empty result", ErrBackend))
		}
		return &Outcome{Response: p.response(t, v, v)}
	case map[string]any:
		if len(v) == 0 {
			return p.failure(t, fmt.Errorf("%w: empty result", ErrBackend))
		}
		return p.object(t, payload, v, st)
	case nil:
		return p.failure(t, fmt.Errorf("%w: no result", ErrBackend))
	default:
		raw, _ := json.Marshal(v)
		return &Outcome{Response: p.response(t, string(raw), "")}
	}
}

func (p *Producer) object(t Turn, payload, res map[string]any, st *types.ConversationState) *Outcome {
	text, _ := res["text"].(string)
	speech, _ := res["speech"].(string)
	resp := p.response(t, text, speech)
	resp.Backend = res
	out := &Outcome{Response: resp}
	if persist, _ := res["persistEntities"].(bool); persist {
		out.PersistEntities = payload
	}

	raw, ok := res["asyncConversation"]
	if !ok {
		return out
	}
	step, err := decodeStep(raw)
	if err != nil {
		p.logger.Warn("ignoring malformed async step", zap.String("knowledge", t.Entry.ID), zap.Error(err))
		return out
	}
	if step.Ask.Speech == "" {
		step.Ask.Speech = step.Ask.Text
	}
	resp.Text, resp.Speech = step.Ask.Text, step.Ask.Speech
	resp.Conversation = &types.Conversation{
		ID:                 t.Entry.ID,
		Kind:               types.StateAsync,
		Step:               step.ID,
		Ask:                &types.Message{Text: step.Ask.Text, Speech: step.Ask.Speech},
		RichResponseObject: step.RichResponseObject,
		EndConversation:    step.EndConversation,
	}
	if step.EndConversation {
		resp.EndConversation = true
		return out
	}

	next := &types.ConversationState{Kind: types.StateAsync, Async: step, Payload: map[string]string{}}
	if st != nil {
		for k, v := range st.Payload {
			next.Payload[k] = v
		}
	}
	for k, v := range payload {
		if s, ok := v.(string); ok {
			next.Payload[k] = s
		}
	}
	out.State = next
	return out
}

func decodeStep(raw any) (*types.AsyncStep, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var step types.AsyncStep
	if err := json.Unmarshal(b, &step); err != nil {
		return nil, err
	}
	if step.ID == "" {
		return nil, fmt.Errorf("async step has no id")
	}
	return &step, nil
}

// continueAsync records the answer under the open step's id and calls the
// backend again with everything gathered so far.
func (p *Producer) continueAsync(ctx context.Context, st *types.ConversationState, t Turn) *Outcome {
	payload := map[string]any{}
	for k, v := range st.Payload {
		payload[k] = v
	}
	if st.Async != nil {
		payload[st.Async.ID] = strings.TrimSpace(t.Answer)
		payload["asyncStep"] = st.Async.ID
	}
	out := p.backend(ctx, t, payload, st)
	if out.State == nil {
		out.Response.EndConversation = true
	}
	return out
}
