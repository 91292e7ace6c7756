// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package producer

import (
	"context"
	"maps"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/expr"
	"github.com/pdiddy/bot-engine/internal/params"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// holds evaluates a condition or validation. Broken expressions count as
// false.
func (p *Producer) holds(src string, env expr.Env) bool {
	prog, err := expr.Compile(src)
	if err != nil {
		p.logger.Warn("invalid expression", zap.String("expression", src), zap.Error(err))
		return false
	}
	ok, err := prog.Bool(env)
	if err != nil {
		p.logger.Debug("expression failed", zap.String("expression", src), zap.Error(err))
		return false
	}
	return ok
}

func (p *Producer) startSync(ctx context.Context, t Turn, slots []types.SyncSlot, known map[string]string, generateReturn bool) *Outcome {
	st := &types.ConversationState{
		Kind:           types.StateSync,
		Slots:          slots,
		GenerateReturn: generateReturn,
		Payload:        map[string]string{},
	}
	maps.Copy(st.Payload, known)
	if len(slots) == 0 {
		return p.completeSync(ctx, st, t, types.Message{})
	}
	return p.ask(t, st, types.Message{})
}

// ask renders the current slot's question, prefixed by lead.
func (p *Producer) ask(t Turn, st *types.ConversationState, lead types.Message) *Outcome {
	slot := st.Slots[st.Step]
	question := p.message(slot.Ask, t.env("", st.Payload))
	msg := join(lead, question)

	resp := p.response(t, msg.Text, msg.Speech)
	resp.Conversation = &types.Conversation{
		ID:                 t.Entry.ID,
		Kind:               types.StateSync,
		Step:               strconv.Itoa(st.Step),
		GenerateReturn:     st.GenerateReturn,
		Ask:                &question,
		RichResponseObject: slot.RichResponseObject,
	}
	return &Outcome{Response: resp, State: st}
}

// continueSync validates the answer to the current slot. A failure beyond
// the slot's retry budget ends the conversation with the hangout message.
func (p *Producer) continueSync(ctx context.Context, st *types.ConversationState, t Turn) *Outcome {
	if st.Step >= len(st.Slots) {
		return p.completeSync(ctx, st, t, types.Message{})
	}
	slot := st.Slots[st.Step]
	answer := strings.TrimSpace(t.Answer)
	if st.Payload == nil {
		st.Payload = map[string]string{}
	}
	env := t.env(answer, st.Payload)

	if slot.Validation != "" && !p.holds(slot.Validation, env) {
		st.Retries++
		if st.Retries > slot.MaxRetry {
			msg := t.I18n.Hangout()
			if len(slot.Hangout) > 0 {
				msg = p.message(slot.Hangout, env)
			}
			return p.end(t, msg.Text, msg.Speech)
		}
		return p.ask(t, st, p.message(slot.ValidationErrorMessage, env))
	}

	st.Payload[slot.Position()] = answer
	st.Retries = 0
	st.Step++
	lead := p.message(slot.ValidationSuccessMessage, env)
	if st.Step < len(st.Slots) {
		return p.ask(t, st, lead)
	}
	return p.completeSync(ctx, st, t, lead)
}

// completeSync closes a finished sync conversation, calling the backend with
// the collected values when the flow generates a return.
func (p *Producer) completeSync(ctx context.Context, st *types.ConversationState, t Turn, lead types.Message) *Outcome {
	if st.GenerateReturn {
		payload, err := params.Render(t.Entry, st.Payload)
		if err != nil {
			return p.failure(t, err)
		}
		out := p.backend(ctx, t, payload, nil)
		if lead.Text != "" && out.Response.Conversation == nil {
			msg := join(lead, types.Message{Text: out.Response.Text, Speech: out.Response.Speech})
			out.Response.Text, out.Response.Speech = msg.Text, msg.Speech
		}
		out.Response.EndConversation = out.State == nil
		return out
	}

	closing := p.message(t.Entry.Responses, t.env("", st.Payload))
	msg := join(lead, closing)
	return p.end(t, msg.Text, msg.Speech)
}
