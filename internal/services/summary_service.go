// internal/services/summary_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Corphon/ShelfTalk/internal/config"
	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	minTitleRunes  = 3
	minAuthorRunes = 2

	summaryAction = "Failed to generate summary"
)

// SummaryService produces book summaries.
type SummaryService struct {
	llm     TextGenerator
	timeout time.Duration
	cache   *expirable.LRU[string, string]
	metrics *utils.APIMetrics

	// Model overrides the configured summary model when set.
	Model string
}

func NewSummaryService(gen TextGenerator, timeout time.Duration) *SummaryService {
	return &SummaryService{
		llm:     gen,
		timeout: timeout,
		cache:   expirable.NewLRU[string, string](128, nil, 6*time.Hour),
		metrics: utils.NewAPIMetrics(),
	}
}

func (s *SummaryService) model() string {
	if s.Model != "" {
		return s.Model
	}
	return config.GetCurrentConfig().SummaryModel
}

// Summarize returns a 600-700 word summary of the book. Inputs are trimmed;
// a title shorter than 3 or an author shorter than 2 characters is rejected
// before any vendor call.
func (s *SummaryService) Summarize(ctx context.Context, title, author string) (string, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)

	if utf8.RuneCountInString(title) < minTitleRunes {
		return "", apperrors.NewValidationError(fmt.Sprintf("Book title must be at least %d characters", minTitleRunes), nil)
	}
	if utf8.RuneCountInString(author) < minAuthorRunes {
		return "", apperrors.NewValidationError(fmt.Sprintf("Author name must be at least %d characters", minAuthorRunes), nil)
	}

	key := strings.ToLower(title) + "\x00" + strings.ToLower(author)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	if !s.llm.IsReady() {
		return "", apperrors.NewServiceUnavailableError(summaryAction+" (service unavailable)", ErrLLMNotReady)
	}

	start := time.Now()
	callCtx, cancel := withStageTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.llm.CompleteText(callCtx, llm.CompletionRequest{
		Prompt: summaryPrompt(title, author),
		Model:  s.model(),
	})
	if err != nil {
		s.metrics.RecordStage("summary", "error", time.Since(start))
		utils.GetLogger().Warn("summary generation failed", map[string]interface{}{
			"title": title,
			"error": err.Error(),
		})
		return "", classifyVendorError(err, summaryAction)
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		s.metrics.RecordStage("summary", "empty", time.Since(start))
		return "", apperrors.NewEmptyResultError(summaryAction+" (could not find a summary)", nil)
	}

	s.cache.Add(key, summary)
	s.metrics.RecordStage("summary", "success", time.Since(start))
	utils.GetLogger().Info("summary generated", map[string]interface{}{
		"title":    title,
		"author":   author,
		"length":   utf8.RuneCountInString(summary),
		"duration": time.Since(start).String(),
	})
	return summary, nil
}

func summaryPrompt(title, author string) string {
	return fmt.Sprintf(
		"Create a summary of the book %q by %s in 600-700 words. "+
			"Focus on the main themes, plot, and key characters.",
		title, author)
}
