// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Corphon/ShelfTalk/internal/config"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrLLMNotReady = errors.New("llm service not ready")

const (
	llmCacheSize = 256
	llmCacheTTL  = 30 * time.Minute
)

// TextGenerator is the part of LLMService the stage services depend on.
type TextGenerator interface {
	CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	IsReady() bool
}

// LLMService wraps the active text-generation provider with readiness
// tracking and a response cache.
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	isReady       bool
	readyState    string

	cache   *expirable.LRU[string, *llm.CompletionResponse]
	metrics *utils.APIMetrics
}

// NewLLMService builds the service from the current configuration. A missing
// API key leaves the service not ready instead of failing startup.
func NewLLMService() (*LLMService, error) {
	s := NewEmptyLLMService()

	cfg := config.GetCurrentConfig()
	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		s.readyState = "API key not configured"
		utils.GetLogger().Warn("text generation not configured", map[string]interface{}{
			"provider": cfg.LLMProvider,
		})
		return s, nil
	}

	if err := s.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		return s, err
	}
	return s, nil
}

// NewEmptyLLMService returns a service without a provider.
func NewEmptyLLMService() *LLMService {
	return &LLMService{
		readyState: "LLM provider not configured",
		cache:      expirable.NewLRU[string, *llm.CompletionResponse](llmCacheSize, nil, llmCacheTTL),
		metrics:    utils.NewAPIMetrics(),
	}
}

// NewLLMServiceWithProvider wraps an already initialized provider.
func NewLLMServiceWithProvider(provider llm.Provider) *LLMService {
	s := NewEmptyLLMService()
	s.provider = provider
	s.providerName = provider.GetName()
	s.isReady = true
	s.readyState = "Ready"
	return s
}

// IsReady reports whether a provider is configured.
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState describes the readiness for the settings page.
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus returns readiness and its description.
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM service not initialized"
	}
	return s.IsReady(), s.GetReadyState()
}

// GetProviderName returns the active provider name.
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider switches to another provider and drops the cache.
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	s.provider = provider
	s.providerName = providerName
	s.isReady = true
	s.readyState = "Ready"
	s.providerMutex.Unlock()

	s.cache.Purge()
	utils.GetLogger().Info("text generation provider updated", map[string]interface{}{
		"provider": providerName,
	})
	return nil
}

// CompleteText sends req to the active provider. Identical requests within
// the cache TTL are answered from the cache; empty answers are never cached.
func (s *LLMService) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	providerName := s.providerName
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, ErrLLMNotReady
	}

	key := generateCacheKey(providerName, req)
	if cached, ok := s.cache.Get(key); ok {
		copied := *cached
		return &copied, nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	s.metrics.RecordVendorCall(providerName, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(resp.Text) != "" {
		copied := *resp
		s.cache.Add(key, &copied)
	}
	return resp, nil
}

func generateCacheKey(providerName string, req llm.CompletionRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.3f|%d|%s|%s",
		providerName, req.Model, req.Temperature, req.MaxTokens, req.SystemPrompt, req.Prompt)
	return hex.EncodeToString(h.Sum(nil))
}

var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```JSON", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'，': ',',
	'【': '[',
	'】': ']',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
}

var quotePairs = map[rune]rune{
	'“': '”',
	'”': '”',
	'„': '”',
	'「': '」',
	'」': '」',
}

// normalizeJSONStructure rewrites full-width punctuation and typographic
// quotes outside of strings to their ASCII JSON counterparts.
func normalizeJSONStructure(s string) string {
	if s == "" {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	currentClosing := '"'

	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				builder.WriteRune(r)
				continue
			}
			if r == '\\' {
				escaped = true
				builder.WriteRune(r)
				continue
			}
			if r == currentClosing || r == '"' {
				inString = false
				currentClosing = '"'
				builder.WriteRune('"')
				continue
			}
			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if closing, ok := quotePairs[r]; ok {
			inString = true
			currentClosing = closing
			builder.WriteRune('"')
			continue
		} else if r == '"' {
			inString = true
			currentClosing = '"'
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// cleanJSONString strips fences and noise, then returns the first balanced
// top-level value of the kind open ('[' or '{'). It falls back to the text up
// to the last closing bracket when the value never balances.
func cleanJSONString(s string, open byte) string {
	if s == "" {
		return s
	}

	s = jsonNoiseReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = normalizeJSONStructure(strings.TrimSpace(s))

	start := strings.IndexByte(s, open)
	if start == -1 {
		return ""
	}
	s = s[start:]

	closeCh := byte(']')
	if open == '{' {
		closeCh = '}'
	}

	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			balance++
		case closeCh:
			balance--
			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	if end := strings.LastIndexByte(s, closeCh); end != -1 {
		return strings.TrimSpace(s[:end+1])
	}
	return ""
}
