// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package producer renders the answer of a matched knowledge entry and
// drives the multi-turn conversations (tree, sync, async) that some entries
// start.
//
// Every call returns an Outcome: the response plus the conversation state to
// keep for the session. A nil State ends any conversation in flight.
package producer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/expr"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// ErrBackend reports a backend call that failed or returned nothing.
var ErrBackend = errors.New("backend call failed")

// StateStore keeps conversation states between turns.
type StateStore interface {
	// LoadState returns the session's state, or nil when there is none.
	LoadState(ctx context.Context, sessionID string) (*types.ConversationState, error)
	SaveState(ctx context.Context, st types.ConversationState) error
	DeleteState(ctx context.Context, sessionID string) error
}

// Turn carries what the producer needs from the current request.
type Turn struct {
	SessionID string
	Entry     *types.KnowledgeEntry

	// Answer is the user's text, used as the reply to an open conversation.
	Answer string

	// Payload is the rendered backend payload from parameter extraction.
	Payload map[string]any

	Tags []string
	Vars map[string]string

	// Meta resolves ${path} placeholders in rendered text.
	Meta map[string]any

	I18n types.I18n

	Voice         string
	Pronunciation string
}

func (t Turn) env(value string, payload map[string]string) expr.Env {
	return expr.Env{Tags: t.Tags, Vars: t.Vars, Payload: payload, Value: value}
}

// Outcome is the result of one producer call.
type Outcome struct {
	Response *types.Response

	// State is the conversation to keep; nil clears it.
	State *types.ConversationState

	// PersistEntities holds a backend payload whose values the caller should
	// record as entities.
	PersistEntities map[string]any
}

// Producer renders responses.
type Producer struct {
	invoker Invoker
	roles   RoleAssumer
	speech  *Speech
	intn    func(int) int
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Producer.
type Option func(*Producer)

// WithInvoker sets the backend invoker.
func WithInvoker(inv Invoker) Option { return func(p *Producer) { p.invoker = inv } }

// WithRoleAssumer sets the credential exchange used for backend roles.
func WithRoleAssumer(r RoleAssumer) Option { return func(p *Producer) { p.roles = r } }

// WithSpeech enables synthesized speech.
func WithSpeech(s *Speech) Option { return func(p *Producer) { p.speech = s } }

// WithRandom replaces the variant picker. intn(n) returns a value in [0, n).
func WithRandom(intn func(int) int) Option { return func(p *Producer) { p.intn = intn } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(p *Producer) { p.now = now } }

// New returns a producer.
func New(logger *zap.Logger, opts ...Option) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{intn: rand.Intn, now: time.Now, logger: logger}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Produce answers t.Entry, starting a conversation for multi-turn kinds.
func (p *Producer) Produce(ctx context.Context, t Turn) (*Outcome, error) {
	if t.Entry == nil {
		return nil, fmt.Errorf("producing response: no knowledge entry")
	}
	var (
		out *Outcome
		err error
	)
	switch t.Entry.Kind {
	case types.KindCommand:
		out = p.command(t)
	case types.KindHistory:
		out = p.history(t)
	case types.KindTree:
		out, err = p.startTree(t)
	case types.KindSync:
		out = p.startSync(ctx, t, t.Entry.Sync, nil, t.Entry.GenerateReturn)
	case types.KindBackend, types.KindAsync:
		out = p.backend(ctx, t, t.Payload, nil)
	default:
		out = p.simple(t)
	}
	if err != nil {
		return nil, err
	}
	p.finish(ctx, out, t)
	return out, nil
}

// Collect starts a sync conversation that asks for slots, prefilled with
// the values already known. Completion calls the entry's backend.
func (p *Producer) Collect(ctx context.Context, t Turn, slots []types.SyncSlot, known map[string]string) *Outcome {
	out := p.startSync(ctx, t, slots, known, true)
	out.Response.MoreInformation = true
	p.finish(ctx, out, t)
	return out
}

// Continue feeds t.Answer to the open conversation st.
func (p *Producer) Continue(ctx context.Context, st *types.ConversationState, t Turn) (*Outcome, error) {
	if t.Entry == nil || st == nil {
		return nil, fmt.Errorf("continuing conversation: missing entry or state")
	}
	if cancelled(t.Entry, t.Answer) {
		msg := t.I18n.Cancelled()
		out := p.end(t, msg.Text, msg.Speech)
		p.finish(ctx, out, t)
		return out, nil
	}

	var (
		out *Outcome
		err error
	)
	switch st.Kind {
	case types.StateTree:
		out, err = p.continueTree(st, t)
	case types.StateSync:
		out = p.continueSync(ctx, st, t)
	case types.StateAsync:
		out = p.continueAsync(ctx, st, t)
	default:
		err = fmt.Errorf("continuing conversation: unknown state kind %q", st.Kind)
	}
	if err != nil {
		return nil, err
	}
	p.finish(ctx, out, t)
	return out, nil
}

func cancelled(entry *types.KnowledgeEntry, answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" {
		return false
	}
	for _, c := range entry.Cancel {
		if strings.ToLower(strings.TrimSpace(c)) == a {
			return true
		}
	}
	return false
}

func (p *Producer) simple(t Turn) *Outcome {
	v, _ := p.best(t.Entry.Responses, t.env(t.Answer, nil))
	return &Outcome{Response: p.response(t, v.Text, v.Speech)}
}

func (p *Producer) command(t Turn) *Outcome {
	out := p.simple(t)
	out.Response.Command = t.Entry.Command
	out.Response.CommandID = t.Entry.CommandID
	return out
}

func (p *Producer) history(t Turn) *Outcome {
	out := p.simple(t)
	out.Response.History = t.Entry.History
	return out
}

// end closes the conversation with a final message.
func (p *Producer) end(t Turn, text, speech string) *Outcome {
	resp := p.response(t, text, speech)
	resp.EndConversation = true
	return &Outcome{Response: resp}
}

func (p *Producer) failure(t Turn, err error) *Outcome {
	p.logger.Warn("backend failed",
		zap.String("session", t.SessionID),
		zap.String("knowledge", t.Entry.ID),
		zap.Error(err),
	)
	msg := t.I18n.Failure()
	return p.end(t, msg.Text, msg.Speech)
}

func (p *Producer) response(t Turn, text, speech string) *types.Response {
	if speech == "" {
		speech = text
	}
	return &types.Response{
		Text:        text,
		Speech:      speech,
		KnowledgeID: t.Entry.ID,
		Kind:        t.Entry.Kind,
	}
}

// finish applies placeholder replacement and speech synthesis.
func (p *Producer) finish(ctx context.Context, out *Outcome, t Turn) {
	resp := out.Response
	resp.Text = Replace(resp.Text, t.Meta)
	resp.Speech = Replace(resp.Speech, t.Meta)
	if c := resp.Conversation; c != nil && c.Ask != nil {
		c.Ask.Text = Replace(c.Ask.Text, t.Meta)
		c.Ask.Speech = Replace(c.Ask.Speech, t.Meta)
	}
	if out.State != nil {
		out.State.SessionID = t.SessionID
		out.State.KnowledgeID = t.Entry.ID
		out.State.UpdatedAt = p.now()
	}
	if p.speech != nil && resp.Speech != "" {
		resp.AudioKey = p.speech.Key(ctx, t.Voice, resp.Speech, t.Pronunciation)
	}
}

// best picks a variant: one whose condition holds, else one without a
// condition, else any.
func (p *Producer) best(variants []types.ResponseVariant, env expr.Env) (types.ResponseVariant, bool) {
	if len(variants) == 0 {
		return types.ResponseVariant{}, false
	}
	var matched, plain []types.ResponseVariant
	for _, v := range variants {
		if v.Condition == "" {
			plain = append(plain, v)
			continue
		}
		if expr.Truthy(v.Condition, env) {
			matched = append(matched, v)
		}
	}
	pool := variants
	switch {
	case len(matched) > 0:
		pool = matched
	case len(plain) > 0:
		pool = plain
	}
	return pool[p.intn(len(pool))], true
}

func (p *Producer) message(variants []types.ResponseVariant, env expr.Env) types.Message {
	v, _ := p.best(variants, env)
	speech := v.Speech
	if speech == "" {
		speech = v.Text
	}
	return types.Message{Text: v.Text, Speech: speech}
}

// join concatenates non-empty messages with a space.
func join(msgs ...types.Message) types.Message {
	var text, speech []string
	for _, m := range msgs {
		if m.Text != "" {
			text = append(text, m.Text)
		}
		if m.Speech != "" {
			speech = append(speech, m.Speech)
		}
	}
	return types.Message{Text: strings.Join(text, " "), Speech: strings.Join(speech, " ")}
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Replace resolves ${a.b.c} placeholders against meta. Unknown paths render
// empty.
func Replace(s string, meta map[string]any) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-1])
		return expr.String(lookup(meta, strings.Split(path, ".")))
	})
}

func lookup(v any, path []string) any {
	for _, key := range path {
		switch t := v.(type) {
		case map[string]any:
			v = t[key]
		case map[string]string:
			v = t[key]
		case map[string]types.Answer:
			v = t[key].Response
		default:
			return nil
		}
	}
	return v
}
