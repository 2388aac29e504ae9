// internal/services/content_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Corphon/ShelfTalk/internal/config"
	"github.com/Corphon/ShelfTalk/internal/content"
	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/storage"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/google/uuid"
)

const (
	maxSummarySourceRunes = 4000
	documentSummaryAction = "Failed to generate summary"
)

// ContentInput is what an author submits for a new document.
type ContentInput struct {
	Title       string             `json:"title"`
	Content     string             `json:"content"`
	ContentType models.ContentType `json:"content_type"`
	Category    string             `json:"category"`
	Tags        []string           `json:"tags"`
	ImageURL    string             `json:"image_url"`
}

// RenderedDocument is a document with display HTML and table of contents.
type RenderedDocument struct {
	Document *models.ContentDocument `json:"document"`
	HTML     string                  `json:"html"`
	Outline  []content.Block         `json:"outline"`
}

// ContentService implements authoring and reading of documents.
type ContentService struct {
	store    storage.ContentStore
	renderer *content.Renderer
	llm      TextGenerator
	locks    *LockManager
	timeout  time.Duration
	now      func() time.Time

	// Model overrides the configured summary model when set.
	Model string
}

func NewContentService(store storage.ContentStore, renderer *content.Renderer, gen TextGenerator, timeout time.Duration) *ContentService {
	return &ContentService{
		store:    store,
		renderer: renderer,
		llm:      gen,
		locks:    NewLockManager(30 * time.Minute),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// PruneLocks drops per-document locks that have been idle past their TTL.
func (s *ContentService) PruneLocks() int {
	return s.locks.Cleanup()
}

// Create validates input and stores a new document owned by identity.
func (s *ContentService) Create(ctx context.Context, identity models.Identity, input ContentInput) (*models.ContentDocument, error) {
	if identity.IsGuest() {
		return nil, apperrors.NewUnauthorizedError("Sign in to create a blog", nil)
	}

	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, apperrors.NewValidationError("Content is required", nil)
	}
	contentType, ok := models.ParseContentType(string(input.ContentType))
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Unsupported content type %q", input.ContentType), nil)
	}
	category, err := validateCategory(input.Category)
	if err != nil {
		return nil, err
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	body := s.prepareContent(input.Content, contentType)
	now := s.now()
	doc := &models.ContentDocument{
		ID:               uuid.NewString(),
		Title:            title,
		Content:          body,
		ContentType:      contentType,
		PlainTextContent: content.PlainText(body, contentType),
		Category:         category,
		Tags:             tags,
		ImageURL:         strings.TrimSpace(input.ImageURL),
		CreatedBy:        identity.UserID,
		Author:           identity.DisplayName,
		AuthorEmail:      identity.Email,
		ProfilePhoto:     identity.AvatarURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, doc); err != nil {
		return nil, err
	}
	utils.GetLogger().Info("blog created", map[string]interface{}{
		"id":           doc.ID,
		"created_by":   doc.CreatedBy,
		"content_type": string(doc.ContentType),
	})
	return doc, nil
}

// Update applies patch to a document the caller owns. Plain text is
// recomputed whenever content or content type changes.
func (s *ContentService) Update(ctx context.Context, identity models.Identity, id string, patch models.ContentPatch) (*models.ContentDocument, error) {
	if identity.IsGuest() {
		return nil, apperrors.NewUnauthorizedError("Sign in to edit a blog", nil)
	}
	patch.PlainTextContent = nil

	var updated *models.ContentDocument
	err := s.locks.ExecuteWithLock(id, func() error {
		current, err := s.owned(ctx, identity, id)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = current
			return nil
		}

		if patch.Title != nil {
			title, err := validateTitle(*patch.Title)
			if err != nil {
				return err
			}
			patch.Title = &title
		}
		if patch.Category != nil {
			category, err := validateCategory(*patch.Category)
			if err != nil {
				return err
			}
			patch.Category = &category
		}
		if patch.Tags != nil {
			tags, err := normalizeTags(*patch.Tags)
			if err != nil {
				return err
			}
			patch.Tags = &tags
		}

		if patch.Content != nil || patch.ContentType != nil {
			contentType := current.ContentType
			if patch.ContentType != nil {
				ct, ok := models.ParseContentType(string(*patch.ContentType))
				if !ok {
					return apperrors.NewValidationError(fmt.Sprintf("Unsupported content type %q", *patch.ContentType), nil)
				}
				contentType = ct
				patch.ContentType = &ct
			}
			body := current.Content
			if patch.Content != nil {
				body = *patch.Content
			} else if contentType != current.ContentType {
				converted, err := s.renderer.Convert(current.Content, current.ContentType, contentType)
				if err != nil {
					return apperrors.NewAppError(apperrors.ErrorTypeError, "Failed to convert content", err)
				}
				body = converted
			}
			if strings.TrimSpace(body) == "" {
				return apperrors.NewValidationError("Content is required", nil)
			}
			body = s.prepareContent(body, contentType)
			plain := content.PlainText(body, contentType)
			patch.Content = &body
			patch.PlainTextContent = &plain
		}

		updated, err = s.store.Update(ctx, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a document the caller owns.
func (s *ContentService) Delete(ctx context.Context, identity models.Identity, id string) error {
	if identity.IsGuest() {
		return apperrors.NewUnauthorizedError("Sign in to delete a blog", nil)
	}
	return s.locks.ExecuteWithLock(id, func() error {
		if _, err := s.owned(ctx, identity, id); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		utils.GetLogger().Info("blog deleted", map[string]interface{}{"id": id, "by": identity.UserID})
		return nil
	})
}

func (s *ContentService) Get(ctx context.Context, id string) (*models.ContentDocument, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError("Blog ID is required", nil)
	}
	return s.store.Get(ctx, id)
}

// ListByAuthor returns the user's documents, newest first.
func (s *ContentService) ListByAuthor(ctx context.Context, userID string) ([]*models.ContentDocument, error) {
	if userID == "" {
		return nil, apperrors.NewUnauthorizedError("Sign in to list your blogs", nil)
	}
	return s.store.List(ctx, models.ContentFilter{CreatedBy: userID})
}

// List returns documents matching filter. Tags outside the allow-list and
// unknown categories are rejected.
func (s *ContentService) List(ctx context.Context, filter models.ContentFilter) ([]*models.ContentDocument, error) {
	if filter.Category != "" && !models.IsValidCategory(filter.Category) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Unknown category %q", filter.Category), nil)
	}
	tags := make([]string, 0, len(filter.Tags))
	for _, t := range filter.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !models.IsValidTag(t) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("Invalid tag %q", t), nil)
		}
		tags = append(tags, t)
	}
	filter.Tags = tags
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return s.store.List(ctx, filter)
}

// RegisterView counts one view.
func (s *ContentService) RegisterView(ctx context.Context, id string) (int64, error) {
	return s.store.IncrementViewCount(ctx, id)
}

// Render returns display HTML and the table of contents.
func (s *ContentService) Render(ctx context.Context, id string) (*RenderedDocument, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rendered, err := s.renderer.Render(doc.Content, doc.ContentType)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeError, "Failed to render blog", err)
	}
	return &RenderedDocument{Document: doc, HTML: rendered.HTML, Outline: rendered.Outline}, nil
}

// SwitchMode converts the stored content to mode. On conversion failure the
// stored document is left untouched.
func (s *ContentService) SwitchMode(ctx context.Context, identity models.Identity, id string, mode models.ContentType) (*models.ContentDocument, error) {
	if identity.IsGuest() {
		return nil, apperrors.NewUnauthorizedError("Sign in to edit a blog", nil)
	}
	if !mode.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Unsupported content type %q", mode), nil)
	}

	var updated *models.ContentDocument
	err := s.locks.ExecuteWithLock(id, func() error {
		current, err := s.owned(ctx, identity, id)
		if err != nil {
			return err
		}
		if current.ContentType == mode {
			updated = current
			return nil
		}

		converted, err := s.renderer.Convert(current.Content, current.ContentType, mode)
		if err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeError, "Failed to convert content", err)
		}
		plain := content.PlainText(converted, mode)
		updated, err = s.store.Update(ctx, id, models.ContentPatch{
			Content:          &converted,
			ContentType:      &mode,
			PlainTextContent: &plain,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Summarize produces an 8-9 line summary of a document.
func (s *ContentService) Summarize(ctx context.Context, id string) (string, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	text := doc.PlainTextContent
	if text == "" {
		text = content.PlainText(doc.Content, doc.ContentType)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("Blog has no text to summarize", nil)
	}
	if utf8.RuneCountInString(text) > maxSummarySourceRunes {
		text = string([]rune(text)[:maxSummarySourceRunes])
	}
	if !s.llm.IsReady() {
		return "", apperrors.NewServiceUnavailableError(documentSummaryAction+" (service unavailable)", ErrLLMNotReady)
	}

	callCtx, cancel := withStageTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.llm.CompleteText(callCtx, llm.CompletionRequest{
		Prompt: documentSummaryPrompt(doc.Title, text),
		Model:  s.model(),
	})
	if err != nil {
		return "", classifyVendorError(err, documentSummaryAction)
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return "", apperrors.NewEmptyResultError(documentSummaryAction+" (could not find a summary)", nil)
	}
	return summary, nil
}

func (s *ContentService) model() string {
	if s.Model != "" {
		return s.Model
	}
	return config.GetCurrentConfig().SummaryModel
}

func documentSummaryPrompt(title, text string) string {
	return fmt.Sprintf(`Generate a concise summary (8-9 lines) of the following blog post content with the title %q:
%s

The summary should:
- Capture the main ideas and key points
- Be clear and concise
- Avoid using direct quotes
- Maintain a neutral tone
- Be suitable for a general audience`, title, text)
}

func (s *ContentService) owned(ctx context.Context, identity models.Identity, id string) (*models.ContentDocument, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.CreatedBy != identity.UserID {
		return nil, apperrors.NewForbiddenError("You can only change your own blogs", nil)
	}
	return doc, nil
}

// prepareContent sanitizes HTML before storage; Markdown is stored verbatim
// and sanitized when rendered.
func (s *ContentService) prepareContent(body string, contentType models.ContentType) string {
	if contentType == models.ContentTypeHTML {
		return s.renderer.Sanitizer().Sanitize(body)
	}
	return body
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperrors.NewValidationError("Title is required", nil)
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return "", apperrors.NewValidationError(fmt.Sprintf("Title must be at most %d characters", models.MaxTitleLength), nil)
	}
	return title, nil
}

func validateCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return models.DefaultCategory, nil
	}
	if !models.IsValidCategory(category) {
		return "", apperrors.NewValidationError(fmt.Sprintf("Unknown category %q", category), nil)
	}
	return category, nil
}

// normalizeTags lower-cases, trims and dedupes tags, keeping their order.
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > models.MaxTags {
		return nil, apperrors.NewValidationError(fmt.Sprintf("At most %d tags are allowed", models.MaxTags), nil)
	}
	return out, nil
}
