// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"time"
)

// Utterance is one incoming turn. Either Text or ID is set; ID requests a
// knowledge entry directly and usually carries a structured Payload.
type Utterance struct {
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	ID   string `json:"_id,omitempty" yaml:"_id,omitempty"`

	// Payload holds client answers keyed by slot name, node id or position.
	Payload map[string]Answer `json:"payload,omitempty" yaml:"payload,omitempty"`

	SessionID       string            `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	Lang            string            `json:"lang,omitempty" yaml:"lang,omitempty"`
	EnvironmentVars map[string]string `json:"environmentVars,omitempty" yaml:"environmentVars,omitempty"`
	UserInfo        map[string]any    `json:"userInfo,omitempty" yaml:"userInfo,omitempty"`

	// DesiredMatch is the knowledge id a test client expects, reported back
	// as a HIT or MISS.
	DesiredMatch string `json:"desiredMatch,omitempty" yaml:"desiredMatch,omitempty"`
}

// Answer is a client reply to one prompt.
type Answer struct {
	Response string `json:"response" yaml:"response"`
}

// Entity is a resolved entity occurrence.
type Entity struct {
	Type      string   `json:"type" yaml:"type"`
	Value     string   `json:"value" yaml:"value"`
	Length    int      `json:"len" yaml:"len"`
	Removable bool     `json:"removable" yaml:"removable"`
	Knowledge []string `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
}

// Placeholder returns the token that replaces the entity value in variants.
func (e Entity) Placeholder() string {
	return "{" + e.Type + "}"
}

// TemporalEntity is a recognized date or time phrase.
type TemporalEntity struct {
	Phrase     string    `json:"phrase" yaml:"phrase"`
	Expression string    `json:"expression" yaml:"expression"`
	Value      string    `json:"value" yaml:"value"`
	Time       time.Time `json:"time" yaml:"time"`
}

// ConversationContext is the record of one completed turn, used to inject
// history into later turns.
type ConversationContext struct {
	UID             string            `json:"uid" yaml:"uid"`
	SessionID       string            `json:"sessionId" yaml:"sessionId"`
	Timestamp       time.Time         `json:"timestamp" yaml:"timestamp"`
	KnowledgeID     string            `json:"knowledgeId" yaml:"knowledgeId"`
	Intent          string            `json:"intent" yaml:"intent"`
	Entities        []Entity          `json:"entities,omitempty" yaml:"entities,omitempty"`
	Payload         map[string]any    `json:"payload,omitempty" yaml:"payload,omitempty"`
	Response        *Response         `json:"response,omitempty" yaml:"response,omitempty"`
	KnowledgeTags   []string          `json:"knowledgeTags,omitempty" yaml:"knowledgeTags,omitempty"`
	EnrichmentTags  []string          `json:"enrichmentTags,omitempty" yaml:"enrichmentTags,omitempty"`
	EnvironmentVars map[string]string `json:"environmentVars,omitempty" yaml:"environmentVars,omitempty"`
}

// Entity returns the first entity of the given type recorded in the turn.
func (c ConversationContext) Entity(typ string) (Entity, bool) {
	for _, e := range c.Entities {
		if e.Type == typ {
			return e, true
		}
	}
	return Entity{}, false
}

// PayloadValue returns the payload value stored under key. Answer-shaped
// values ({"response": ...}) are unwrapped.
func (c ConversationContext) PayloadValue(key string) (string, bool) {
	v, ok := c.Payload[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		if r, ok := t["response"].(string); ok {
			return r, true
		}
	case Answer:
		return t.Response, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// StateKind discriminates the multi-turn conversation states.
type StateKind string

const (
	StateTree  StateKind = "tree"
	StateSync  StateKind = "sync"
	StateAsync StateKind = "async"
)

// ConversationState is the persisted state of a multi-turn conversation.
// Only the fields of its Kind are meaningful.
type ConversationState struct {
	SessionID   string    `json:"sessionId" yaml:"sessionId"`
	KnowledgeID string    `json:"knowledgeId" yaml:"knowledgeId"`
	Kind        StateKind `json:"kind" yaml:"kind"`

	// Node is the last asked tree node.
	Node string `json:"node,omitempty" yaml:"node,omitempty"`

	// Slots, Step and Retries drive a sync conversation.
	Slots   []SyncSlot `json:"slots,omitempty" yaml:"slots,omitempty"`
	Step    int        `json:"step,omitempty" yaml:"step,omitempty"`
	Retries int        `json:"retries,omitempty" yaml:"retries,omitempty"`

	// Async is the step dictated by the backend.
	Async *AsyncStep `json:"async,omitempty" yaml:"async,omitempty"`

	GenerateReturn bool              `json:"generateReturn,omitempty" yaml:"generateReturn,omitempty"`
	Payload        map[string]string `json:"payload,omitempty" yaml:"payload,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt" yaml:"updatedAt"`
}

// AsyncStep is one backend-dictated prompt.
type AsyncStep struct {
	ID                 string          `json:"id" yaml:"id"`
	Ask                Message         `json:"ask" yaml:"ask"`
	EndConversation    bool            `json:"endConversation,omitempty" yaml:"endConversation,omitempty"`
	RichResponseObject json.RawMessage `json:"richResponseObject,omitempty" yaml:"richResponseObject,omitempty"`
}

// Conversation describes the continuation a client must follow.
type Conversation struct {
	ID                 string          `json:"_id" yaml:"_id"`
	Kind               StateKind       `json:"kind" yaml:"kind"`
	Step               string          `json:"step" yaml:"step"`
	GenerateReturn     bool            `json:"generateReturn,omitempty" yaml:"generateReturn,omitempty"`
	Ask                *Message        `json:"ask,omitempty" yaml:"ask,omitempty"`
	GoToNode           string          `json:"goToNode,omitempty" yaml:"goToNode,omitempty"`
	RichResponseObject json.RawMessage `json:"richResponseObject,omitempty" yaml:"richResponseObject,omitempty"`
	EndConversation    bool            `json:"endConversation,omitempty" yaml:"endConversation,omitempty"`
}

// DesiredMatch reports whether a test utterance hit the expected entry.
type DesiredMatch struct {
	Expected string `json:"expected" yaml:"expected"`
	Actual   string `json:"actual" yaml:"actual"`
	Status   string `json:"status" yaml:"status"`
}

// Response is the rendered answer of one turn.
type Response struct {
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
	Speech string `json:"speech,omitempty" yaml:"speech,omitempty"`

	KnowledgeID string       `json:"knowledgeId,omitempty" yaml:"knowledgeId,omitempty"`
	Kind        ResponseKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Score       float64      `json:"score,omitempty" yaml:"score,omitempty"`

	SessionID string `json:"sessionId" yaml:"sessionId"`
	UID       string `json:"uid" yaml:"uid"`
	Lang      string `json:"lang,omitempty" yaml:"lang,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	RawIntent string `json:"rawIntent,omitempty" yaml:"rawIntent,omitempty"`

	Voice               string `json:"voice,omitempty" yaml:"voice,omitempty"`
	CustomPronunciation string `json:"customPronunciation,omitempty" yaml:"customPronunciation,omitempty"`
	AudioKey            string `json:"audioKey,omitempty" yaml:"audioKey,omitempty"`

	NIF             bool `json:"nif,omitempty" yaml:"nif,omitempty"`
	EndConversation bool `json:"endConversation,omitempty" yaml:"endConversation,omitempty"`
	MoreInformation bool `json:"moreInformationNeeded,omitempty" yaml:"moreInformationNeeded,omitempty"`

	Entities         []Entity         `json:"entities,omitempty" yaml:"entities,omitempty"`
	TemporalEntities []TemporalEntity `json:"temporalEntities,omitempty" yaml:"temporalEntities,omitempty"`
	Tags             []string         `json:"tags,omitempty" yaml:"tags,omitempty"`

	Conversation *Conversation `json:"conversation,omitempty" yaml:"conversation,omitempty"`
	Router       *Router       `json:"router,omitempty" yaml:"router,omitempty"`
	Command      string        `json:"command,omitempty" yaml:"command,omitempty"`
	CommandID    string        `json:"commandId,omitempty" yaml:"commandId,omitempty"`
	History      []HistoryStep `json:"history,omitempty" yaml:"history,omitempty"`
	DesiredMatch *DesiredMatch `json:"desiredMatch,omitempty" yaml:"desiredMatch,omitempty"`
	RoutedEvent  string        `json:"routedEvent,omitempty" yaml:"routedEvent,omitempty"`

	// Backend carries object results passed through from a backend call.
	Backend map[string]any `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// ConversationLog is the audit record written for every turn.
type ConversationLog struct {
	UID         string        `json:"uid" yaml:"uid"`
	SessionID   string        `json:"sessionId" yaml:"sessionId"`
	Timestamp   time.Time     `json:"timestamp" yaml:"timestamp"`
	Utterance   string        `json:"utterance" yaml:"utterance"`
	Normalized  string        `json:"normalized,omitempty" yaml:"normalized,omitempty"`
	KnowledgeID string        `json:"knowledgeId,omitempty" yaml:"knowledgeId,omitempty"`
	Score       float64       `json:"score,omitempty" yaml:"score,omitempty"`
	NIF         bool          `json:"nif" yaml:"nif"`
	RoutedEvent string        `json:"routedEvent,omitempty" yaml:"routedEvent,omitempty"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Response    *Response     `json:"response,omitempty" yaml:"response,omitempty"`
}
