// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/brain"
	"github.com/pdiddy/bot-engine/internal/entity"
	"github.com/pdiddy/bot-engine/internal/params"
	"github.com/pdiddy/bot-engine/internal/producer"
	"github.com/pdiddy/bot-engine/internal/temporal"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Desired match statuses.
const (
	Hit  = "HIT"
	Miss = "MISS"
)

// request is the state of one Resolve call.
type request struct {
	u     types.Utterance
	uid   string
	start time.Time
	rt    *runtime
	log   *zap.Logger

	// state is the conversation loaded for the session, if any.
	state *types.ConversationState

	normalized string
	entities   []types.Entity
	temporal   []types.TemporalEntity
	tags       []string
	match      *brain.Match
	payload    map[string]any
	routed     string
}

func (r *request) index() *brain.Index { return r.rt.index }

// Resolve answers one utterance. Only a knowledge package that cannot be
// loaded is returned as an error; every other failure is rendered as a
// localized response.
func (e *Engine) Resolve(ctx context.Context, u types.Utterance) (*types.Response, error) {
	rt, err := e.runtime(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving utterance: %w", err)
	}
	if u.SessionID == "" {
		u.SessionID = e.newSession()
	}
	start := e.now()
	r := &request{
		u:     u,
		uid:   fmt.Sprintf("%s-%d", u.SessionID, start.UnixNano()),
		start: start,
		rt:    rt,
	}
	r.log = e.logger.With(zap.String("session", u.SessionID), zap.String("uid", r.uid))

	out, err := e.dispatch(ctx, r)
	if err != nil {
		return nil, err
	}

	resp := out.Response
	var entry *types.KnowledgeEntry
	if r.match != nil {
		entry = r.match.Entry
	}
	if entry != nil && entry.Router != nil && resp.Router == nil {
		resp.Router = entry.Router
		r.routed = RouterKnowledge
	}
	e.fill(r, resp, entry)

	if entry != nil {
		e.keepState(ctx, r, out)
		if out.PersistEntities != nil {
			if n := rt.entities.Persist(ctx, out.PersistEntities, entry.ID); n > 0 {
				r.log.Debug("entities persisted", zap.Int("count", n))
			}
		}
		if out.State == nil {
			e.contexts.Save(ctx, e.record(r, resp, entry), entry)
		}
	}
	e.writeLog(ctx, r, resp)

	r.log.Info("utterance resolved",
		zap.String("knowledge", resp.KnowledgeID),
		zap.Float64("score", resp.Score),
		zap.Bool("nif", resp.NIF),
		zap.String("routed", r.routed),
	)
	return resp, nil
}

// dispatch picks the path of the request: an open conversation, the
// direct _id path or classification.
func (e *Engine) dispatch(ctx context.Context, r *request) (*producer.Outcome, error) {
	st, err := e.states.LoadState(ctx, r.u.SessionID)
	if err != nil {
		r.log.Warn("loading conversation state failed", zap.Error(err))
		st = nil
	}
	if st != nil {
		if r.u.ID == "" || r.u.ID == st.KnowledgeID {
			entry, err := r.index().Entry(st.KnowledgeID)
			if err == nil {
				r.state = st
				return e.continueConversation(ctx, r, entry)
			}
			r.log.Warn("dropping conversation of unknown knowledge", zap.String("knowledge", st.KnowledgeID))
		}
		if err := e.states.DeleteState(ctx, r.u.SessionID); err != nil {
			r.log.Warn("clearing conversation state failed", zap.Error(err))
		}
	}

	if r.u.ID != "" {
		return e.direct(ctx, r, r.u.ID, r.u.Payload)
	}
	return e.classify(ctx, r)
}

func (e *Engine) continueConversation(ctx context.Context, r *request, entry *types.KnowledgeEntry) (*producer.Outcome, error) {
	answer := answerFor(r.state, r.u)
	r.match = &brain.Match{Entry: entry, Score: 1, Direct: true}
	r.tags = r.rt.enricher.Tags(answer)

	t := e.turn(r, entry)
	t.Answer = answer
	out, err := e.producer.Continue(ctx, r.state, t)
	if err != nil {
		return nil, fmt.Errorf("continuing %s: %w", entry.ID, err)
	}
	r.payload = map[string]any{}
	for k, v := range r.state.Payload {
		r.payload[k] = v
	}
	return out, nil
}

// answerFor extracts the reply to st from the utterance: its text, else the
// payload answer keyed by the open node, slot or step, else the first
// payload answer by key.
func answerFor(st *types.ConversationState, u types.Utterance) string {
	if strings.TrimSpace(u.Text) != "" {
		return u.Text
	}
	var keys []string
	switch st.Kind {
	case types.StateTree:
		keys = []string{st.Node}
	case types.StateSync:
		if st.Step < len(st.Slots) {
			keys = []string{st.Slots[st.Step].Name, st.Slots[st.Step].Position()}
		}
	case types.StateAsync:
		if st.Async != nil {
			keys = []string{st.Async.ID}
		}
	}
	for _, k := range keys {
		if a, ok := u.Payload[k]; ok {
			return a.Response
		}
	}
	names := make([]string, 0, len(u.Payload))
	for k := range u.Payload {
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) > 0 {
		return u.Payload[names[0]].Response
	}
	return ""
}

// direct answers the knowledge entry named by id without classification.
func (e *Engine) direct(ctx context.Context, r *request, id string, payload map[string]types.Answer) (*producer.Outcome, error) {
	m, err := r.index().ByID(id)
	if err != nil {
		r.log.Warn("unknown knowledge requested", zap.String("knowledge", id))
		return e.noMatch(ctx, r), nil
	}
	r.match = m
	if r.tags == nil {
		r.tags = r.rt.enricher.Tags(r.u.Text)
	}
	return e.answer(ctx, r, m.Entry, payload)
}

func (e *Engine) classify(ctx context.Context, r *request) (*producer.Outcome, error) {
	ix := r.index()
	norm := r.rt.pipeline.Run(r.u.Text)
	r.normalized = norm.Text
	r.temporal = norm.Temporal

	found := r.rt.entities.Resolve(ctx, norm.Text)
	r.entities = entity.Reduce(append(found, temporal.Entities(norm.Temporal)...))

	cleaned := entity.Cleanup(norm.Text, r.entities)
	variants := entity.Variants(norm.Text, r.entities)
	c := ix.Classify(variants)
	m := ix.BestMatch(c, e.confidence())
	r.tags = r.rt.enricher.Tags(r.u.Text)

	if ce := r.log.Check(zap.DebugLevel, "classified"); ce != nil {
		fields := []zap.Field{
			zap.String("normalized", norm.Text),
			zap.Strings("variants", variants),
			zap.Strings("shortlist", c.Shortlist),
		}
		if c.Max != nil {
			fields = append(fields, zap.String("linearMax", c.Max.ID), zap.Float64("linearScore", c.Max.Score))
		}
		ce.Write(fields...)
	}

	if m == nil {
		if id, payload, ok := entityRoute(cleaned, r.entities, r.u.Payload); ok {
			r.routed = EntityOnly
			return e.direct(ctx, r, id, payload)
		}
		return e.noMatch(ctx, r), nil
	}
	r.match = m
	return e.answer(ctx, r, m.Entry, r.u.Payload)
}

func (e *Engine) confidence() float64 {
	if e.cfg.Brain.Confidence > 0 {
		return e.cfg.Brain.Confidence
	}
	return brain.DefaultConfidence
}

// entityRoute handles utterances made only of entities: they go to the
// first knowledge entry related to any of them, with every entity value in
// the payload.
func entityRoute(cleaned string, entities []types.Entity, base map[string]types.Answer) (string, map[string]types.Answer, bool) {
	if len(entities) == 0 {
		return "", nil, false
	}
	if strings.TrimSpace(cleaned) != "" && !entity.OnlyPlaceholders(cleaned) {
		return "", nil, false
	}
	var id string
	payload := map[string]types.Answer{}
	for k, v := range base {
		payload[k] = v
	}
	for _, en := range entities {
		if id == "" && len(en.Knowledge) > 0 {
			id = en.Knowledge[0]
		}
		if _, set := payload[en.Type]; !set {
			payload[en.Type] = types.Answer{Response: en.Value}
		}
	}
	return id, payload, id != ""
}

// answer fills the entry's parameters and produces its response, or asks
// for what is missing.
func (e *Engine) answer(ctx context.Context, r *request, entry *types.KnowledgeEntry, payload map[string]types.Answer) (*producer.Outcome, error) {
	contexts := e.contexts.Fetch(ctx, r.u.SessionID, entry.Context)
	res, err := e.params.Extract(params.Input{
		Entry:     entry,
		RawIntent: r.u.Text,
		Entities:  r.entities,
		Payload:   payload,
		Contexts:  contexts,
		Tags:      r.tags,
		Vars:      r.u.EnvironmentVars,
	})
	t := e.turn(r, entry)
	if err != nil {
		r.log.Warn("rendering backend payload failed", zap.String("knowledge", entry.ID), zap.Error(err))
		msg := t.I18n.Failure()
		return &producer.Outcome{Response: &types.Response{
			Text:            msg.Text,
			Speech:          msg.Speech,
			KnowledgeID:     entry.ID,
			Kind:            entry.Kind,
			EndConversation: true,
		}}, nil
	}
	if res.MoreInfo {
		return e.producer.Collect(ctx, t, res.Slots, res.Values), nil
	}

	t.Payload = res.Payload
	r.payload = res.Payload
	out, err := e.producer.Produce(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("producing %s: %w", entry.ID, err)
	}
	return out, nil
}

// turn builds the producer view of the request.
func (e *Engine) turn(r *request, entry *types.KnowledgeEntry) producer.Turn {
	voice := e.cfg.Voice
	if entry.Voice != "" {
		voice = entry.Voice
	}
	entities := map[string]string{}
	for _, en := range r.entities {
		if _, set := entities[en.Type]; !set {
			entities[en.Type] = en.Value
		}
	}
	return producer.Turn{
		SessionID: r.u.SessionID,
		Entry:     entry,
		Answer:    r.u.Text,
		Tags:      r.tags,
		Vars:      r.u.EnvironmentVars,
		Meta: map[string]any{
			"user":     r.u.UserInfo,
			"env":      r.u.EnvironmentVars,
			"payload":  r.u.Payload,
			"entities": entities,
			"session":  map[string]string{"id": r.u.SessionID, "uid": r.uid},
		},
		I18n:          r.index().Package().I18n,
		Voice:         voice,
		Pronunciation: entry.CustomPronunciation,
	}
}

// noMatch renders the localized no-match response, escalating through the
// package route definitions or, when there are none, the first federated
// brain.
func (e *Engine) noMatch(ctx context.Context, r *request) *producer.Outcome {
	pkg := r.index().Package()
	msg := pkg.I18n.NoMatch()
	resp := &types.Response{Text: msg.Text, Speech: msg.Speech, NIF: true, EndConversation: true}
	out := &producer.Outcome{Response: resp}

	if routes := pkg.RouteDefinitions; routes != nil {
		router, event := routes.NifRouter, RouterNIF
		if n := e.nifCount(ctx, r); n >= nifLimit && routes.NifLimitRouter != nil {
			r.log.Warn("consecutive no-match limit reached", zap.Int("total", n))
			router, event = routes.NifLimitRouter, RouterNIFLimit
		}
		if router != nil {
			route(resp, router)
			r.routed = event
		}
		return out
	}

	if len(pkg.Federation) == 0 || e.federation == nil {
		return out
	}
	fr, err := e.federation.Forward(ctx, pkg.Federation, r.u)
	if err != nil {
		r.log.Warn("federated brain failed", zap.Error(err))
		return out
	}
	r.routed = Federated
	return &producer.Outcome{Response: fr}
}

// nifCount counts the no-match turns among the last two logged turns of the
// session plus the current one.
func (e *Engine) nifCount(ctx context.Context, r *request) int {
	total := 1
	if e.logs == nil {
		return total
	}
	logs, err := e.logs.RecentLogs(ctx, r.u.SessionID, nifLimit-1)
	if err != nil {
		r.log.Warn("reading conversation logs failed", zap.Error(err))
		return total
	}
	for _, l := range logs {
		if l.NIF {
			total++
		}
	}
	return total
}

func route(resp *types.Response, router *types.Router) {
	resp.EndConversation = false
	resp.Router = router
	if router.Mode == "text" {
		resp.Text = router.Text
		resp.Speech = router.Speech
		if resp.Speech == "" {
			resp.Speech = router.Text
		}
	}
}

// fill stamps the request-level fields on resp.
func (e *Engine) fill(r *request, resp *types.Response, entry *types.KnowledgeEntry) {
	resp.SessionID = r.u.SessionID
	resp.UID = r.uid
	resp.Lang = r.u.Lang
	resp.Version = e.cfg.Version
	resp.RawIntent = r.u.Text
	resp.Entities = r.entities
	resp.TemporalEntities = r.temporal
	resp.Tags = r.tags
	resp.RoutedEvent = r.routed
	if r.match != nil && resp.KnowledgeID == r.match.Entry.ID {
		resp.Score = r.match.Score
	}
	if resp.Voice == "" {
		resp.Voice = e.cfg.Voice
		if entry != nil {
			resp.CustomPronunciation = entry.CustomPronunciation
			if entry.Voice != "" {
				resp.Voice = entry.Voice
			}
		}
	}
	if want := r.u.DesiredMatch; want != "" {
		status := Miss
		if resp.KnowledgeID == want {
			status = Hit
		}
		resp.DesiredMatch = &types.DesiredMatch{Expected: want, Actual: resp.KnowledgeID, Status: status}
	}
}

// keepState saves the conversation the producer left open, or clears the
// one the turn finished.
func (e *Engine) keepState(ctx context.Context, r *request, out *producer.Outcome) {
	switch {
	case out.State != nil:
		if err := e.states.SaveState(ctx, *out.State); err != nil {
			r.log.Warn("saving conversation state failed", zap.Error(err))
		}
	case r.state != nil:
		if err := e.states.DeleteState(ctx, r.u.SessionID); err != nil {
			r.log.Warn("clearing conversation state failed", zap.Error(err))
		}
	}
}

func (e *Engine) record(r *request, resp *types.Response, entry *types.KnowledgeEntry) types.ConversationContext {
	rec := types.ConversationContext{
		UID:             r.uid,
		SessionID:       r.u.SessionID,
		Timestamp:       r.start,
		KnowledgeID:     entry.ID,
		Intent:          r.u.Text,
		Entities:        r.entities,
		Payload:         r.payload,
		Response:        resp,
		KnowledgeTags:   entry.Tags,
		EnrichmentTags:  r.tags,
		EnvironmentVars: r.u.EnvironmentVars,
	}
	if entry.Context != nil && len(entry.Context.EnrichmentTags) > 0 {
		rec.EnrichmentTags = append(append([]string{}, entry.Context.EnrichmentTags...), r.tags...)
	}
	if rec.Payload == nil && len(r.u.Payload) > 0 {
		rec.Payload = map[string]any{}
		for k, v := range r.u.Payload {
			rec.Payload[k] = v.Response
		}
	}
	return rec
}

func (e *Engine) writeLog(ctx context.Context, r *request, resp *types.Response) {
	if e.sink == nil {
		return
	}
	l := types.ConversationLog{
		UID:         r.uid,
		SessionID:   r.u.SessionID,
		Timestamp:   r.start,
		Utterance:   r.u.Text,
		Normalized:  r.normalized,
		KnowledgeID: resp.KnowledgeID,
		Score:       resp.Score,
		NIF:         resp.NIF,
		RoutedEvent: r.routed,
		Duration:    e.now().Sub(r.start),
		Response:    resp,
	}
	if err := e.sink.Write(ctx, l); err != nil {
		r.log.Warn("writing conversation log failed", zap.Error(err))
	}
}
