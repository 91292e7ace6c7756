// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the bot-engine runtime.
package types

import "encoding/json"

// ResponseKind identifies how a knowledge entry renders its answer. It is
// decided once when the knowledge package is loaded.
type ResponseKind string

const (
	KindSimple  ResponseKind = "simple"
	KindCommand ResponseKind = "command"
	KindBackend ResponseKind = "backend"
	KindTree    ResponseKind = "tree"
	KindSync    ResponseKind = "sync"
	KindAsync   ResponseKind = "async"
	KindHistory ResponseKind = "history"
)

// Valid reports whether k is one of the known response kinds.
func (k ResponseKind) Valid() bool {
	switch k {
	case KindSimple, KindCommand, KindBackend, KindTree, KindSync, KindAsync, KindHistory:
		return true
	}
	return false
}

// MultiTurn reports whether the kind keeps a conversation state between turns.
func (k ResponseKind) MultiTurn() bool {
	return k == KindTree || k == KindSync || k == KindAsync
}

// KnowledgeEntry is one trainable unit of the bot: a family of intents and
// the definition of how to answer them. Entries are immutable once loaded.
type KnowledgeEntry struct {
	// ID is the unique knowledge identifier.
	ID string `json:"id" yaml:"id"`

	// Intents are the canonical phrasings used for matching.
	Intents []string `json:"intents" yaml:"intents"`

	// Kind is the response kind. When empty in the package it is inferred
	// from which response fields are present.
	Kind ResponseKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Responses are the text/speech variants for simple and command entries,
	// and the opening step for history entries.
	Responses []ResponseVariant `json:"responses,omitempty" yaml:"responses,omitempty"`

	// Command is the client command identifier for command entries.
	Command   string `json:"command,omitempty" yaml:"command,omitempty"`
	CommandID string `json:"commandId,omitempty" yaml:"commandId,omitempty"`

	// Backend names the compute collaborator for backend entries.
	Backend *BackendTarget `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Nodes is the navigation tree keyed by node id. The entry node is "root".
	Nodes map[string]TreeNode `json:"nodes,omitempty" yaml:"nodes,omitempty"`

	// Sync is the ordered slot list collected by a sync conversation.
	Sync []SyncSlot `json:"sync,omitempty" yaml:"sync,omitempty"`

	// Async marks an entry whose steps are dictated by its backend.
	Async bool `json:"async,omitempty" yaml:"async,omitempty"`

	// History is replayed verbatim by history entries.
	History []HistoryStep `json:"history,omitempty" yaml:"history,omitempty"`

	// Parameters are the slots filled before calling the backend.
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Payload is the backend payload template. Occurrences of "$position"
	// are replaced with resolved parameter values.
	Payload string `json:"payload,omitempty" yaml:"payload,omitempty"`

	// RemoveAccent folds accents in the rendered payload.
	RemoveAccent bool `json:"removeAccent,omitempty" yaml:"removeAccent,omitempty"`

	// GenerateReturn makes a completed multi-turn conversation call the backend.
	GenerateReturn bool `json:"generateReturn,omitempty" yaml:"generateReturn,omitempty"`

	// Cancel lists phrases that abandon an in-flight conversation.
	Cancel []string `json:"cancel,omitempty" yaml:"cancel,omitempty"`

	Tags    []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Context *ContextPolicy `json:"context,omitempty" yaml:"context,omitempty"`
	Router  *Router        `json:"router,omitempty" yaml:"router,omitempty"`

	// Voice overrides the engine voice for this entry.
	Voice               string `json:"voice,omitempty" yaml:"voice,omitempty"`
	CustomPronunciation string `json:"customPronunciation,omitempty" yaml:"customPronunciation,omitempty"`
}

// InferKind returns the declared kind, or derives one from the response
// fields that are present.
func (e *KnowledgeEntry) InferKind() ResponseKind {
	if e.Kind != "" {
		return e.Kind
	}
	switch {
	case e.Command != "":
		return KindCommand
	case len(e.Nodes) > 0:
		return KindTree
	case len(e.Sync) > 0:
		return KindSync
	case e.Async:
		return KindAsync
	case e.Backend != nil:
		return KindBackend
	case len(e.History) > 0:
		return KindHistory
	default:
		return KindSimple
	}
}

// PersistContext reports whether turns answered by this entry are written
// to the context store.
func (e *KnowledgeEntry) PersistContext() bool {
	if e.Context == nil || e.Context.Persist == nil {
		return true
	}
	return *e.Context.Persist
}

// ResponseVariant is one candidate rendering of an answer.
type ResponseVariant struct {
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
	Speech string `json:"speech,omitempty" yaml:"speech,omitempty"`

	// Condition is an expression evaluated against the session tags and
	// environment. A variant without a condition is always eligible.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// BackendTarget identifies a compute collaborator.
type BackendTarget struct {
	// Target is the invocation address (an http(s) URL or a static command name).
	Target string `json:"target" yaml:"target"`

	// Role is an optional role assumed before invoking Target.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

// TreeNode is a node of a navigation tree.
type TreeNode struct {
	Ask       []ResponseVariant `json:"ask" yaml:"ask"`
	Parent    string            `json:"parent,omitempty" yaml:"parent,omitempty"`
	Condition string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	GoToNode  string            `json:"goToNode,omitempty" yaml:"goToNode,omitempty"`
	Router    *Router           `json:"router,omitempty" yaml:"router,omitempty"`

	// RichResponseObject is passed through to the client untouched.
	RichResponseObject json.RawMessage `json:"richResponseObject,omitempty" yaml:"richResponseObject,omitempty"`

	EndConversation bool `json:"endConversation,omitempty" yaml:"endConversation,omitempty"`
}

// SyncSlot is one question of a sync conversation.
type SyncSlot struct {
	Name            string            `json:"name" yaml:"name"`
	PayloadPosition string            `json:"payloadPosition,omitempty" yaml:"payloadPosition,omitempty"`
	Ask             []ResponseVariant `json:"ask" yaml:"ask"`

	// Validation is an expression evaluated with the answer bound to value.
	Validation string `json:"validation,omitempty" yaml:"validation,omitempty"`

	ValidationSuccessMessage []ResponseVariant `json:"validationSuccessMessage,omitempty" yaml:"validationSuccessMessage,omitempty"`
	ValidationErrorMessage   []ResponseVariant `json:"validationErrorMessage,omitempty" yaml:"validationErrorMessage,omitempty"`

	// MaxRetry is the number of re-prompts allowed after failed validation.
	MaxRetry int `json:"maxRetry,omitempty" yaml:"maxRetry,omitempty"`

	// Hangout is rendered when the retry budget is exhausted.
	Hangout []ResponseVariant `json:"hangout,omitempty" yaml:"hangout,omitempty"`

	RichResponseObject json.RawMessage `json:"richResponseObject,omitempty" yaml:"richResponseObject,omitempty"`
}

// Position returns the payload key the slot fills.
func (s SyncSlot) Position() string {
	if s.PayloadPosition != "" {
		return s.PayloadPosition
	}
	return s.Name
}

// HistoryStep is a presentational directive (print, wait, media) replayed
// by history entries.
type HistoryStep struct {
	Type  string          `json:"type" yaml:"type"`
	Value json.RawMessage `json:"value,omitempty" yaml:"value,omitempty"`
}

// Parameter is a declared slot of a knowledge entry.
type Parameter struct {
	Name            string   `json:"name" yaml:"name"`
	PayloadPosition string   `json:"payloadPosition,omitempty" yaml:"payloadPosition,omitempty"`
	RegexList       []string `json:"regexList,omitempty" yaml:"regexList,omitempty"`

	// DefaultValue is an expression evaluated when no other source fills the slot.
	DefaultValue string `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`

	// CtxInjection allows filling the slot from the most recent context.
	CtxInjection bool `json:"ctxInjection,omitempty" yaml:"ctxInjection,omitempty"`

	Validation               string            `json:"validation,omitempty" yaml:"validation,omitempty"`
	NoMatchAsk               []ResponseVariant `json:"noMatchAsk,omitempty" yaml:"noMatchAsk,omitempty"`
	ValidationSuccessMessage []ResponseVariant `json:"validationSuccessMessage,omitempty" yaml:"validationSuccessMessage,omitempty"`
	ValidationErrorMessage   []ResponseVariant `json:"validationErrorMessage,omitempty" yaml:"validationErrorMessage,omitempty"`
	MaxRetry                 int               `json:"maxRetry,omitempty" yaml:"maxRetry,omitempty"`
	Hangout                  []ResponseVariant `json:"hangout,omitempty" yaml:"hangout,omitempty"`
	RichResponseObject       json.RawMessage   `json:"richResponseObject,omitempty" yaml:"richResponseObject,omitempty"`
}

// Position returns the payload placeholder the parameter fills.
func (p Parameter) Position() string {
	if p.PayloadPosition != "" {
		return p.PayloadPosition
	}
	return p.Name
}

// ContextStrategy selects which prior turns are injected into a turn.
type ContextStrategy string

const (
	ContextBySession    ContextStrategy = "sessionId"
	ContextByIterations ContextStrategy = "lastIterations"
	ContextByTags       ContextStrategy = "tags"
)

// ContextPolicy is the context declaration of a knowledge entry.
type ContextPolicy struct {
	Strategy ContextStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Limit    int             `json:"limit,omitempty" yaml:"limit,omitempty"`
	Tags     []string        `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Persist disables context writes when set to false.
	Persist *bool `json:"persist,omitempty" yaml:"persist,omitempty"`

	// EnrichmentTags are copied onto the context record for tag retrieval.
	EnrichmentTags []string `json:"enrichmentTags,omitempty" yaml:"enrichmentTags,omitempty"`
}

// Router hands a conversation over to another channel or agent.
type Router struct {
	// Mode "text" makes the router text replace the rendered response.
	Mode        string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Text        string `json:"text,omitempty" yaml:"text,omitempty"`
	Speech      string `json:"speech,omitempty" yaml:"speech,omitempty"`
}
