// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package producer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bot-engine/internal/filecache"
	"github.com/pdiddy/bot-engine/pkg/types"
)

func first(int) int { return 0 }

func testProducer(opts ...Option) *Producer {
	return New(nil, append([]Option{WithRandom(first)}, opts...)...)
}

func TestProduce_SimpleConditions(t *testing.T) {
	entry := &types.KnowledgeEntry{
		ID:   "K1",
		Kind: types.KindSimple,
		Responses: []types.ResponseVariant{
			{Text: "Welcome back, VIP!", Condition: "tag('vip')"},
			{Text: "Hello!", Speech: "Hello there"},
			{Text: "Web hello", Condition: "env('channel') == 'web'"},
		},
	}
	p := testProducer()
	ctx := context.Background()

	tests := []struct {
		name       string
		tags       []string
		vars       map[string]string
		wantText   string
		wantSpeech string
	}{
		{name: "condition holds", tags: []string{"vip"}, wantText: "Welcome back, VIP!", wantSpeech: "Welcome back, VIP!"},
		{name: "env condition", vars: map[string]string{"channel": "web"}, wantText: "Web hello", wantSpeech: "Web hello"},
		{name: "falls back to unconditioned", wantText: "Hello!", wantSpeech: "Hello there"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := p.Produce(ctx, Turn{Entry: entry, Tags: tc.tags, Vars: tc.vars})
			require.NoError(t, err)
			assert.Equal(t, tc.wantText, out.Response.Text)
			assert.Equal(t, tc.wantSpeech, out.Response.Speech)
			assert.Equal(t, "K1", out.Response.KnowledgeID)
			assert.Nil(t, out.State)
		})
	}
}

func TestBest_AllConditionalAndFalse(t *testing.T) {
	p := testProducer()
	v, ok := p.best([]types.ResponseVariant{{Text: "a", Condition: "tag('x')"}, {Text: "b", Condition: "tag('y')"}}, Turn{}.env("", nil))
	require.True(t, ok)
	assert.Equal(t, "a", v.Text)

	_, ok = p.best(nil, Turn{}.env("", nil))
	assert.False(t, ok)
}

func TestProduce_CommandAndHistory(t *testing.T) {
	p := testProducer()
	ctx := context.Background()

	out, err := p.Produce(ctx, Turn{Entry: &types.KnowledgeEntry{
		ID: "K2", Kind: types.KindCommand, Command: "OPEN_MENU", CommandID: "42",
		Responses: []types.ResponseVariant{{Text: "Opening the menu"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "OPEN_MENU", out.Response.Command)
	assert.Equal(t, "42", out.Response.CommandID)
	assert.Equal(t, "Opening the menu", out.Response.Text)

	steps := []types.HistoryStep{{Type: "print", Value: json.RawMessage(`"Once upon a time"`)}, {Type: "wait", Value: json.RawMessage(`2`)}}
	out, err = p.Produce(ctx, Turn{Entry: &types.KnowledgeEntry{
		ID: "K3", Kind: types.KindHistory, History: steps,
		Responses: []types.ResponseVariant{{Text: "A story"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, steps, out.Response.History)
}

func treeEntry() *types.KnowledgeEntry {
	return &types.KnowledgeEntry{
		ID:     "K4",
		Kind:   types.KindTree,
		Cancel: []string{"stop"},
		Nodes: map[string]types.TreeNode{
			"root":  {Ask: []types.ResponseVariant{{Text: "Pizza or pasta?"}}},
			"pizza": {Parent: "root", Condition: "value == 'pizza'", Ask: []types.ResponseVariant{{Text: "Which size?"}}},
			"pasta": {Parent: "root", Condition: "value == 'pasta'", Ask: []types.ResponseVariant{{Text: "Pasta it is."}}, EndConversation: true},
			"human": {Ask: []types.ResponseVariant{{Text: "One moment"}}, Router: &types.Router{Mode: "text", Destination: "agent", Text: "Connecting you to a person"}},
		},
	}
}

func TestTree(t *testing.T) {
	p := testProducer()
	ctx := context.Background()
	entry := treeEntry()

	out, err := p.Produce(ctx, Turn{SessionID: "s1", Entry: entry})
	require.NoError(t, err)
	assert.Equal(t, "Pizza or pasta?", out.Response.Text)
	require.NotNil(t, out.State)
	assert.Equal(t, "root", out.State.Node)
	assert.Equal(t, "s1", out.State.SessionID)
	assert.Equal(t, "K4", out.State.KnowledgeID)
	require.NotNil(t, out.Response.Conversation)
	assert.Equal(t, types.StateTree, out.Response.Conversation.Kind)
	root := out.State

	tests := []struct {
		name     string
		answer   string
		wantText string
		wantNode string
		wantEnd  bool
	}{
		{name: "condition picks child", answer: "pizza", wantText: "Which size?", wantNode: "pizza"},
		{name: "no qualifying child re-asks", answer: "burger", wantText: "Pizza or pasta?", wantNode: "root"},
		{name: "terminal child ends", answer: "pasta", wantText: "Pasta it is.", wantEnd: true},
		{name: "goto jumps to router", answer: "goto:human", wantText: "Connecting you to a person", wantEnd: true},
		{name: "cancel phrase", answer: "Stop", wantText: "Ok, cancelled.", wantEnd: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := *root
			out, err := p.Continue(ctx, &st, Turn{SessionID: "s1", Entry: entry, Answer: tc.answer})
			require.NoError(t, err)
			assert.Equal(t, tc.wantText, out.Response.Text)
			if tc.wantEnd {
				assert.Nil(t, out.State)
				assert.True(t, out.Response.EndConversation)
				return
			}
			require.NotNil(t, out.State)
			assert.Equal(t, tc.wantNode, out.State.Node)
		})
	}
}

func TestTree_AnswersAccumulate(t *testing.T) {
	p := testProducer()
	ctx := context.Background()
	entry := &types.KnowledgeEntry{
		ID:   "K7",
		Kind: types.KindTree,
		Nodes: map[string]types.TreeNode{
			"root": {Ask: []types.ResponseVariant{{Text: "Hungry?"}}},
			"a":    {Parent: "root", Ask: []types.ResponseVariant{{Text: "size?"}}},
			"b": {
				Parent:          "a",
				Condition:       "payload('root') == 'yes'",
				Ask:             []types.ResponseVariant{{Text: "big pizza done"}},
				EndConversation: true,
			},
		},
	}

	out, err := p.Produce(ctx, Turn{SessionID: "s1", Entry: entry})
	require.NoError(t, err)
	require.NotNil(t, out.State)

	st := out.State
	out, err = p.Continue(ctx, st, Turn{SessionID: "s1", Entry: entry, Answer: "yes"})
	require.NoError(t, err)
	assert.Equal(t, "size?", out.Response.Text)
	require.NotNil(t, out.State)
	assert.Equal(t, map[string]string{"root": "yes"}, out.State.Payload)

	st = out.State
	out, err = p.Continue(ctx, st, Turn{SessionID: "s1", Entry: entry, Answer: "large"})
	require.NoError(t, err)
	assert.Equal(t, "big pizza done", out.Response.Text)
	assert.True(t, out.Response.EndConversation)
	assert.Equal(t, map[string]string{"root": "yes", "a": "large"}, st.Payload)
}

func TestTree_RouterAndMissingRoot(t *testing.T) {
	p := testProducer()
	out, err := p.Continue(context.Background(), &types.ConversationState{Kind: types.StateTree, Node: "root"},
		Turn{Entry: treeEntry(), Answer: "goto:human"})
	require.NoError(t, err)
	require.NotNil(t, out.Response.Router)
	assert.Equal(t, "agent", out.Response.Router.Destination)

	_, err = p.Produce(context.Background(), Turn{Entry: &types.KnowledgeEntry{ID: "K5", Kind: types.KindTree, Nodes: map[string]types.TreeNode{"a": {}}}})
	assert.Error(t, err)
}

func syncEntry(generateReturn bool) *types.KnowledgeEntry {
	return &types.KnowledgeEntry{
		ID:             "K6",
		Kind:           types.KindSync,
		GenerateReturn: generateReturn,
		Backend:        &types.BackendTarget{Target: "order"},
		Payload:        `{"size":"$size","name":"$customer"}`,
		Responses:      []types.ResponseVariant{{Text: "Thanks, ${user.name}."}},
		Sync: []types.SyncSlot{
			{
				Name:                     "size",
				Ask:                      []types.ResponseVariant{{Text: "Small or large?"}},
				Validation:               "value in ['small', 'large']",
				ValidationErrorMessage:   []types.ResponseVariant{{Text: "That is not a size."}},
				ValidationSuccessMessage: []types.ResponseVariant{{Text: "Got it."}},
				MaxRetry:                 2,
				Hangout:                  []types.ResponseVariant{{Text: "Call us instead."}},
			},
			{Name: "name", PayloadPosition: "customer", Ask: []types.ResponseVariant{{Text: "Your name?"}}},
		},
	}
}

func TestSync_RetryExhaustion(t *testing.T) {
	p := testProducer()
	ctx := context.Background()
	entry := syncEntry(false)

	out, err := p.Produce(ctx, Turn{SessionID: "s1", Entry: entry})
	require.NoError(t, err)
	assert.Equal(t, "Small or large?", out.Response.Text)
	st := out.State

	for i := 1; i <= 2; i++ {
		out, err = p.Continue(ctx, st, Turn{SessionID: "s1", Entry: entry, Answer: "huge"})
		require.NoError(t, err)
		assert.Equal(t, "That is not a size. Small or large?", out.Response.Text)
		require.NotNil(t, out.State, "retry %d still prompts", i)
		assert.Equal(t, i, out.State.Retries)
		st = out.State
	}

	out, err = p.Continue(ctx, st, Turn{SessionID: "s1", Entry: entry, Answer: "huge"})
	require.NoError(t, err)
	assert.Equal(t, "Call us instead.", out.Response.Text)
	assert.True(t, out.Response.EndConversation)
	assert.Nil(t, out.State)
}

func TestSync_HangoutFallsBackToI18n(t *testing.T) {
	p := testProducer()
	entry := syncEntry(false)
	entry.Sync[0].Hangout = nil
	entry.Sync[0].MaxRetry = 0

	st := &types.ConversationState{Kind: types.StateSync, Slots: entry.Sync}
	out, err := p.Continue(context.Background(), st, Turn{Entry: entry, Answer: "huge",
		I18n: types.I18n{HangoutMessage: &types.Message{Text: "Bye for now"}}})
	require.NoError(t, err)
	assert.Equal(t, "Bye for now", out.Response.Text)
	assert.Nil(t, out.State)
}

func TestSync_CompletesWithResponses(t *testing.T) {
	p := testProducer()
	ctx := context.Background()
	entry := syncEntry(false)
	meta := map[string]any{"user": map[string]any{"name": "Ada"}}

	out, err := p.Produce(ctx, Turn{Entry: entry})
	require.NoError(t, err)

	out, err = p.Continue(ctx, out.State, Turn{Entry: entry, Answer: "large"})
	require.NoError(t, err)
	assert.Equal(t, "Got it. Your name?", out.Response.Text)
	assert.Equal(t, "1", out.Response.Conversation.Step)
	assert.Equal(t, map[string]string{"size": "large"}, out.State.Payload)

	out, err = p.Continue(ctx, out.State, Turn{Entry: entry, Answer: "Ada", Meta: meta})
	require.NoError(t, err)
	assert.Equal(t, "Thanks, Ada.", out.Response.Text)
	assert.True(t, out.Response.EndConversation)
	assert.Nil(t, out.State)
}

func TestSync_GenerateReturnCallsBackend(t *testing.T) {
	static := NewStaticInvoker()
	var got map[string]any
	static.Register("order", func(_ context.Context, payload map[string]any) (any, error) {
		got = payload
		return "Order placed.", nil
	})
	p := testProducer(WithInvoker(&Dispatcher{Static: static}))
	ctx := context.Background()
	entry := syncEntry(true)

	st := &types.ConversationState{Kind: types.StateSync, Slots: entry.Sync, Step: 1, GenerateReturn: true,
		Payload: map[string]string{"size": "small"}}
	out, err := p.Continue(ctx, st, Turn{Entry: entry, Answer: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"size": "small", "name": "Grace"}, got)
	assert.Equal(t, "Order placed.", out.Response.Text)
	assert.True(t, out.Response.EndConversation)
	assert.Nil(t, out.State)
}

func TestCollect(t *testing.T) {
	static := NewStaticInvoker()
	static.Register("order", func(_ context.Context, payload map[string]any) (any, error) {
		return map[string]any{"text": "Ordered a " + payload["size"].(string) + " pizza for " + payload["name"].(string)}, nil
	})
	p := testProducer(WithInvoker(&Dispatcher{Static: static}))
	ctx := context.Background()
	entry := syncEntry(false)
	entry.Kind = types.KindBackend

	slots := []types.SyncSlot{{Name: "name", PayloadPosition: "customer", Ask: []types.ResponseVariant{{Text: "Your name?"}}}}
	out := p.Collect(ctx, Turn{Entry: entry}, slots, map[string]string{"size": "large"})
	assert.True(t, out.Response.MoreInformation)
	assert.Equal(t, "Your name?", out.Response.Text)
	require.NotNil(t, out.State)
	assert.True(t, out.State.GenerateReturn)

	out, err := p.Continue(ctx, out.State, Turn{Entry: entry, Answer: "Linus"})
	require.NoError(t, err)
	assert.Equal(t, "Ordered a large pizza for Linus", out.Response.Text)
}

func backendEntry(target string) *types.KnowledgeEntry {
	return &types.KnowledgeEntry{ID: "K7", Kind: types.KindBackend, Backend: &types.BackendTarget{Target: target}}
}

func TestBackend_Results(t *testing.T) {
	static := NewStaticInvoker()
	static.Register("text", func(context.Context, map[string]any) (any, error) { return "It is sunny", nil })
	static.Register("blank", func(context.Context, map[string]any) (any, error) { return "  ", nil })
	static.Register("empty", func(context.Context, map[string]any) (any, error) { return map[string]any{}, nil })
	static.Register("nothing", func(context.Context, map[string]any) (any, error) { return nil, nil })
	static.Register("broken", func(context.Context, map[string]any) (any, error) { return nil, errors.New("timeout") })
	static.Register("object", func(context.Context, map[string]any) (any, error) {
		return map[string]any{"text": "Saved", "persistEntities": true, "orderId": "A1"}, nil
	})
	p := testProducer(WithInvoker(&Dispatcher{Static: static}))
	ctx := context.Background()
	i18n := types.I18n{ErrorMessage: &types.Message{Text: "Oops", Speech: "Oops"}}

	tests := []struct {
		target   string
		wantText string
		wantEnd  bool
	}{
		{target: "text", wantText: "It is sunny"},
		{target: "object", wantText: "Saved"},
		{target: "blank", wantText: "Oops", wantEnd: true},
		{target: "empty", wantText: "Oops", wantEnd: true},
		{target: "nothing", wantText: "Oops", wantEnd: true},
		{target: "broken", wantText: "Oops", wantEnd: true},
		{target: "unregistered", wantText: "Oops", wantEnd: true},
	}
	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			out, err := p.Produce(ctx, Turn{Entry: backendEntry(tc.target), Payload: map[string]any{"city": "lisbon"}, I18n: i18n})
			require.NoError(t, err)
			assert.Equal(t, tc.wantText, out.Response.Text)
			assert.Equal(t, tc.wantEnd, out.Response.EndConversation)
		})
	}

	out, err := p.Produce(ctx, Turn{Entry: backendEntry("object"), Payload: map[string]any{"city": "lisbon"}})
	require.NoError(t, err)
	assert.Equal(t, "A1", out.Response.Backend["orderId"])
	assert.Equal(t, map[string]any{"city": "lisbon"}, out.PersistEntities)
}

func TestBackend_HTTPWithRole(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`"Weather in ` + body["city"].(string) + `: sunny"`))
	}))
	defer ts.Close()

	p := testProducer(
		WithInvoker(&Dispatcher{HTTP: &HTTPInvoker{Client: ts.Client()}}),
		WithRoleAssumer(&SecretsRoleAssumer{Secrets: map[string]string{"role-weather": "tok-123"}}),
	)
	entry := backendEntry(ts.URL)
	entry.Backend.Role = "arn:aws:iam::123:role/weather"

	out, err := p.Produce(context.Background(), Turn{Entry: entry, Payload: map[string]any{"city": "Porto"}})
	require.NoError(t, err)
	assert.Equal(t, "Weather in Porto: sunny", out.Response.Text)

	entry.Backend.Role = "arn:aws:iam::123:role/unknown"
	out, err = p.Produce(context.Background(), Turn{Entry: entry})
	require.NoError(t, err)
	assert.True(t, out.Response.EndConversation, "a role without credentials fails the turn")
}

func TestAsync(t *testing.T) {
	static := NewStaticInvoker()
	var calls []map[string]any
	static.Register("bank", func(_ context.Context, payload map[string]any) (any, error) {
		calls = append(calls, payload)
		if _, ok := payload["pin"]; !ok {
			return map[string]any{"asyncConversation": map[string]any{"id": "pin", "ask": map[string]any{"text": "Your PIN?"}}}, nil
		}
		return map[string]any{"text": "Balance: 10"}, nil
	})
	p := testProducer(WithInvoker(&Dispatcher{Static: static}))
	ctx := context.Background()
	entry := &types.KnowledgeEntry{ID: "K8", Kind: types.KindAsync, Async: true, Backend: &types.BackendTarget{Target: "bank"}}

	out, err := p.Produce(ctx, Turn{Entry: entry, Payload: map[string]any{"account": "checking"}})
	require.NoError(t, err)
	assert.Equal(t, "Your PIN?", out.Response.Text)
	require.NotNil(t, out.State)
	assert.Equal(t, types.StateAsync, out.State.Kind)
	assert.Equal(t, "pin", out.Response.Conversation.Step)

	out, err = p.Continue(ctx, out.State, Turn{Entry: entry, Answer: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "Balance: 10", out.Response.Text)
	assert.True(t, out.Response.EndConversation)
	assert.Nil(t, out.State)

	require.Len(t, calls, 2)
	assert.Equal(t, "checking", calls[1]["account"])
	assert.Equal(t, "1234", calls[1]["pin"])
}

func TestReplace(t *testing.T) {
	meta := map[string]any{
		"user":    map[string]any{"name": "Ada", "tier": 2.0},
		"payload": map[string]types.Answer{"size": {Response: "large"}},
		"env":     map[string]string{"channel": "web"},
	}
	assert.Equal(t, "Hi Ada (2) on web: large", Replace("Hi ${user.name} (${user.tier}) on ${env.channel}: ${payload.size}", meta))
	assert.Equal(t, "Hi ", Replace("Hi ${user.missing.deep}", meta))
	assert.Equal(t, "plain", Replace("plain", nil))
}

type countingSynth struct{ calls int }

func (c *countingSynth) Synthesize(context.Context, string, string, string) ([]byte, error) {
	c.calls++
	return []byte("RIFF"), nil
}

func TestSpeech_CachedByVoiceTextLexicon(t *testing.T) {
	synth := &countingSynth{}
	speech := NewSpeech(synth, filecache.New(t.TempDir(), time.Hour, ".mp3"), nil)
	p := testProducer(WithSpeech(speech))
	entry := &types.KnowledgeEntry{ID: "K1", Kind: types.KindSimple, Responses: []types.ResponseVariant{{Text: "Hello"}}}

	a, err := p.Produce(context.Background(), Turn{Entry: entry, Voice: "Joanna"})
	require.NoError(t, err)
	b, err := p.Produce(context.Background(), Turn{Entry: entry, Voice: "Joanna"})
	require.NoError(t, err)
	c, err := p.Produce(context.Background(), Turn{Entry: entry, Voice: "Matthew"})
	require.NoError(t, err)

	assert.NotEmpty(t, a.Response.AudioKey)
	assert.Equal(t, a.Response.AudioKey, b.Response.AudioKey)
	assert.NotEqual(t, a.Response.AudioKey, c.Response.AudioKey)
	assert.Equal(t, 2, synth.calls)
}
