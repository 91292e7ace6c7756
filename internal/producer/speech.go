// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/pdiddy/bot-engine/internal/filecache"
	"github.com/pdiddy/bot-engine/internal/httputil"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Synthesizer turns speech text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, lexicon string) ([]byte, error)
}

// HTTPSynthesizer posts {text, voice, lexicon} to Endpoint and reads audio
// bytes back.
type HTTPSynthesizer struct {
	Endpoint string
	Client   *http.Client
	Config   types.HTTPConfig
}

// Synthesize implements Synthesizer.
func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice, lexicon string) ([]byte, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: h.Config.Timeout}
	}
	body, err := json.Marshal(map[string]string{"text": text, "voice": voice, "lexicon": lexicon})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httputil.DoWithRetry(ctx, client, req, h.Config.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesizing speech: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Speech caches synthesized audio by (voice, text, lexicon).
type Speech struct {
	synth  Synthesizer
	cache  *filecache.Cache
	logger *zap.Logger
}

// NewSpeech returns a speech cache over synth.
func NewSpeech(synth Synthesizer, cache *filecache.Cache, logger *zap.Logger) *Speech {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Speech{synth: synth, cache: cache, logger: logger}
}

// Key returns the audio key for the rendering, synthesizing and caching the
// audio on a miss. It returns "" when synthesis fails.
func (s *Speech) Key(ctx context.Context, voice, text, lexicon string) string {
	key := filecache.Key(voice, text, lexicon)
	if _, ok := s.cache.Get(key); ok {
		return key
	}
	audio, err := s.synth.Synthesize(ctx, text, voice, lexicon)
	if err != nil {
		s.logger.Warn("speech synthesis failed", zap.String("voice", voice), zap.Error(err))
		return ""
	}
	if err := s.cache.Put(key, audio); err != nil {
		s.logger.Warn("caching audio failed", zap.Error(err))
	}
	return key
}
