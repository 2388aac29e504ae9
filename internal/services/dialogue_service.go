// internal/services/dialogue_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Corphon/ShelfTalk/internal/config"
	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/utils"
)

const (
	minSummaryRunes   = 10
	maxDialogueRunes  = 1000
	dialogueAction    = "Failed to generate dialogue"
	placeholderText   = "I find this book quite interesting to discuss."
	fallbackTemplate  = "Let's discuss the key themes of this book from my perspective as %s."
	fallbackWarning   = "The discussion could not be generated in full; showing a simplified dialogue."
	truncationWarning = "Line %d: text shortened to %d characters"
)

// DialogueService turns a summary into a persona discussion.
type DialogueService struct {
	llm     TextGenerator
	timeout time.Duration
	metrics *utils.APIMetrics

	// Model overrides the configured dialogue model when set.
	Model string
}

func NewDialogueService(gen TextGenerator, timeout time.Duration) *DialogueService {
	return &DialogueService{
		llm:     gen,
		timeout: timeout,
		metrics: utils.NewAPIMetrics(),
	}
}

func (s *DialogueService) model() string {
	if s.Model != "" {
		return s.Model
	}
	return config.GetCurrentConfig().DialogueModel
}

// Generate asks the vendor for a discussion between personas. An empty
// persona list uses the built-in panel. A reply that cannot be parsed yields
// the degraded fallback dialogue; vendor failures are returned as errors.
func (s *DialogueService) Generate(ctx context.Context, summary string, personas []models.Persona) (*models.Dialogue, error) {
	summary = strings.TrimSpace(summary)
	if utf8.RuneCountInString(summary) < minSummaryRunes {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("A valid book summary (minimum %d characters) is required", minSummaryRunes), nil)
	}
	if len(personas) == 0 {
		personas = models.DefaultPersonas
	}
	for _, p := range personas {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Traits) == "" {
			return nil, apperrors.NewValidationError("Each character must have a valid name and traits", nil)
		}
	}

	if !s.llm.IsReady() {
		return nil, apperrors.NewServiceUnavailableError(dialogueAction+" (service unavailable)", ErrLLMNotReady)
	}

	start := time.Now()
	callCtx, cancel := withStageTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.llm.CompleteText(callCtx, llm.CompletionRequest{
		Prompt:      dialoguePrompt(summary, personas),
		Model:       s.model(),
		Temperature: 0.8,
	})
	if err != nil {
		s.metrics.RecordStage("dialogue", "error", time.Since(start))
		utils.GetLogger().Warn("dialogue generation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, classifyVendorError(err, dialogueAction)
	}

	dialogue := ParseDialogue(resp.Text, personas)
	outcome := "success"
	if dialogue.Degraded {
		outcome = "degraded"
		utils.GetLogger().Warn("dialogue reply unusable, using fallback", map[string]interface{}{
			"reply_length": len(resp.Text),
		})
	}
	s.metrics.RecordStage("dialogue", outcome, time.Since(start))
	return dialogue, nil
}

func dialoguePrompt(summary string, personas []models.Persona) string {
	descriptions := make([]string, 0, len(personas))
	for _, p := range personas {
		descriptions = append(descriptions, p.Name+": "+p.Traits)
	}
	names := make([]string, 0, len(models.Emotions))
	for _, e := range models.Emotions {
		names = append(names, string(e))
	}

	return fmt.Sprintf(`Based on the following book summary, create an engaging dialogue between these characters discussing the book:

BOOK SUMMARY:
%s

CHARACTERS:
%s

Create a natural, flowing conversation where each character speaks 3-4 times, staying true to their personality traits. The dialogue should:
1. Cover the main themes and plot points from the summary
2. Show different perspectives and insights
3. Include some disagreement or debate to make it interesting
4. Be educational and engaging
5. Feel like a real discussion between people with different viewpoints

Format the response as a JSON array with objects containing:
- character: the character name (exactly as provided)
- text: what they say
- emotion: one of (%s)

Example format:
[
  {"character": "%s", "text": "This book presents fascinating themes about...", "emotion": "thoughtful"}
]`, summary, strings.Join(descriptions, "\n"), strings.Join(names, ", "), personas[0].Name)
}

// ParseDialogue extracts and repairs dialogue lines from a vendor reply.
// personas must not be empty.
func ParseDialogue(raw string, personas []models.Persona) *models.Dialogue {
	items, ok := decodeDialogueArray(raw)
	if !ok || len(items) == 0 {
		return FallbackDialogue(personas)
	}

	out := &models.Dialogue{Lines: make([]models.DialogueLine, 0, len(items))}
	for i, item := range items {
		line, warning := repairLine(i, item, personas)
		out.Lines = append(out.Lines, line)
		if warning != "" {
			out.Warnings = append(out.Warnings, warning)
		}
	}
	return out
}

// FallbackDialogue is one generic line per persona, flagged as degraded.
func FallbackDialogue(personas []models.Persona) *models.Dialogue {
	lines := make([]models.DialogueLine, 0, len(personas))
	for _, p := range personas {
		lines = append(lines, models.DialogueLine{
			Character: p.Name,
			Text:      fmt.Sprintf(fallbackTemplate, p.Name),
			Emotion:   defaultEmotion(p),
		})
	}
	return &models.Dialogue{
		Lines:    lines,
		Degraded: true,
		Warnings: []string{fallbackWarning},
	}
}

// decodeDialogueArray tries the whole reply first, then the first balanced
// top-level array in it.
func decodeDialogueArray(raw string) ([]map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(jsonNoiseReplacer.Replace(raw))
	if trimmed == "" {
		return nil, false
	}

	var items []map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
		return items, true
	}

	candidate := cleanJSONString(raw, '[')
	if candidate == "" {
		return nil, false
	}
	items = nil
	if err := json.Unmarshal([]byte(candidate), &items); err != nil {
		return nil, false
	}
	return items, true
}

func repairLine(i int, item map[string]interface{}, personas []models.Persona) (models.DialogueLine, string) {
	persona, ok := models.FindPersona(personas, stringField(item, "character"))
	if !ok {
		persona = personas[i%len(personas)]
	}

	text := strings.TrimSpace(stringField(item, "text"))
	if text == "" {
		text = placeholderText
	}
	var warning string
	if utf8.RuneCountInString(text) > maxDialogueRunes {
		text = string([]rune(text)[:maxDialogueRunes])
		warning = fmt.Sprintf(truncationWarning, i+1, maxDialogueRunes)
	}

	emotion, known := models.ParseEmotion(stringField(item, "emotion"))
	if !known {
		emotion = defaultEmotion(persona)
	}

	return models.DialogueLine{
		Character: persona.Name,
		Text:      text,
		Emotion:   emotion,
	}, warning
}

func stringField(item map[string]interface{}, key string) string {
	if v, ok := item[key].(string); ok {
		return v
	}
	return ""
}

func defaultEmotion(p models.Persona) models.Emotion {
	if _, ok := models.ParseEmotion(string(p.DefaultEmotion)); ok {
		return p.DefaultEmotion
	}
	return models.EmotionNeutral
}
