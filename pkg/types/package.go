// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// KnowledgePackage is the compiled document shipped inside a knowledge
// archive. The training job that produces it is external to the engine.
type KnowledgePackage struct {
	BrainName   string `json:"brainName,omitempty" yaml:"brainName,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	LastUpdated string `json:"lastUpdated,omitempty" yaml:"lastUpdated,omitempty"`

	Knowledge []KnowledgeEntry `json:"knowledge" yaml:"knowledge"`

	// Statistics is the precomputed word-relevance table. When absent the
	// loader derives it from the intents.
	Statistics *Statistics `json:"statistics,omitempty" yaml:"statistics,omitempty"`

	StopWords         []string                  `json:"stopWords,omitempty" yaml:"stopWords,omitempty"`
	Analysers         Analysers                 `json:"analysers,omitempty" yaml:"analysers,omitempty"`
	ProtectedEntities []string                  `json:"protectedEntities,omitempty" yaml:"protectedEntities,omitempty"`
	RouteDefinitions  *RouteDefinitions         `json:"routeDefinitions,omitempty" yaml:"routeDefinitions,omitempty"`
	Federation        map[string]FederatedBrain `json:"federation,omitempty" yaml:"federation,omitempty"`
	I18n              I18n                      `json:"i18n,omitempty" yaml:"i18n,omitempty"`
}

// Analysers carries the dictionaries used by normalization and enrichment.
type Analysers struct {
	// Synonym maps a canonical token to its variants.
	Synonym map[string][]string `json:"synonym,omitempty" yaml:"synonym,omitempty"`

	Temporal *TemporalLibrary `json:"temporal,omitempty" yaml:"temporal,omitempty"`

	// Sentiment maps a tag key to the words that trigger it.
	Sentiment map[string][]string `json:"sentiment,omitempty" yaml:"sentiment,omitempty"`

	NegativeWords     []string `json:"negativeWords,omitempty" yaml:"negativeWords,omitempty"`
	PositiveWords     []string `json:"positiveWords,omitempty" yaml:"positiveWords,omitempty"`
	QualitativeWords  []string `json:"qualitativeWords,omitempty" yaml:"qualitativeWords,omitempty"`
	QuantitativeWords []string `json:"quantitativeWords,omitempty" yaml:"quantitativeWords,omitempty"`
	TemporalWords     []string `json:"temporalWords,omitempty" yaml:"temporalWords,omitempty"`
}

// TemporalLibrary maps phrases to temporal expressions.
type TemporalLibrary struct {
	Locale      string                        `json:"locale,omitempty" yaml:"locale,omitempty"`
	Expressions map[string]TemporalExpression `json:"expressions" yaml:"expressions"`
}

// TemporalExpression is the definition of one temporal phrase.
type TemporalExpression struct {
	// Exp is written in the temporal grammar, e.g. "today+1d|2006-01-02".
	Exp string `json:"exp" yaml:"exp"`

	// Override names a shorter phrase dropped when this one matches.
	Override string `json:"override,omitempty" yaml:"override,omitempty"`
}

// WordStat is the relevance record of one token.
type WordStat struct {
	Length       int      `json:"l" yaml:"l"`
	Presence     int      `json:"p" yaml:"p"`
	Distribution int      `json:"d" yaml:"d"`
	Importance   float64  `json:"i" yaml:"i"`
	Score        float64  `json:"s" yaml:"s"`
	Related      []string `json:"rel" yaml:"rel"`
	RelD         float64  `json:"reld" yaml:"reld"`
	RelP         float64  `json:"relp" yaml:"relp"`
	RelScore     float64  `json:"relscore" yaml:"relscore"`
	Entity       bool     `json:"entity,omitempty" yaml:"entity,omitempty"`
}

// Statistics is the global word-relevance table.
type Statistics struct {
	Index      map[string]WordStat `json:"idx" yaml:"idx"`
	Percentile Percentiles         `json:"percentile" yaml:"percentile"`

	// AvgWordsPerIntent is the mean intent length in tokens.
	AvgWordsPerIntent float64 `json:"avgWordsPerIntent,omitempty" yaml:"avgWordsPerIntent,omitempty"`
}

// Percentiles holds the thresholds derived from the relevance table.
type Percentiles struct {
	RelMin float64 `json:"relmin" yaml:"relmin"`
	Min    float64 `json:"min" yaml:"min"`
	Avg    float64 `json:"avg" yaml:"avg"`
	Max    float64 `json:"max" yaml:"max"`
}

// RouteDefinitions escalates repeated no-match turns.
type RouteDefinitions struct {
	NifRouter      *Router `json:"nifRouter,omitempty" yaml:"nifRouter,omitempty"`
	NifLimitRouter *Router `json:"nifLimitRouter,omitempty" yaml:"nifLimitRouter,omitempty"`
}

// FederatedBrain is another engine consulted on no-match turns.
type FederatedBrain struct {
	URL string `json:"url" yaml:"url"`

	// APIKeySecret names the secret file holding the API key.
	APIKeySecret string `json:"apiKeySecret,omitempty" yaml:"apiKeySecret,omitempty"`
}

// Message is a localized text/speech pair.
type Message struct {
	Text   string `json:"text" yaml:"text"`
	Speech string `json:"speech" yaml:"speech"`
}

// I18n holds the localized system messages.
type I18n struct {
	ErrorMessage   *Message `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	NifMessage     *Message `json:"nifMessage,omitempty" yaml:"nifMessage,omitempty"`
	CancelMessage  *Message `json:"cancelMessage,omitempty" yaml:"cancelMessage,omitempty"`
	HangoutMessage *Message `json:"hangoutMessage,omitempty" yaml:"hangoutMessage,omitempty"`
}

// Failure returns the backend failure message, falling back to a generic one.
func (i I18n) Failure() Message {
	if i.ErrorMessage != nil {
		return *i.ErrorMessage
	}
	return Message{Text: "Sorry, something went wrong.", Speech: "Sorry, something went wrong."}
}

// NoMatch returns the no-match message.
func (i I18n) NoMatch() Message {
	if i.NifMessage != nil {
		return *i.NifMessage
	}
	return Message{Text: ":(", Speech: "Error"}
}

// Cancelled returns the message rendered when the user abandons a conversation.
func (i I18n) Cancelled() Message {
	if i.CancelMessage != nil {
		return *i.CancelMessage
	}
	return Message{Text: "Ok, cancelled.", Speech: "Ok, cancelled."}
}

// Hangout returns the message rendered when a retry budget is exhausted.
func (i I18n) Hangout() Message {
	if i.HangoutMessage != nil {
		return *i.HangoutMessage
	}
	return Message{Text: "Let's try again later.", Speech: "Let's try again later."}
}
