// internal/services/video_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/Corphon/ShelfTalk/internal/video"
	"github.com/google/uuid"
)

const (
	defaultMaxVideoText = 500
	defaultVoiceID      = "Rachel"

	msgAllVideos = "All videos created successfully"
	msgNoVideos  = "No videos were created successfully"
)

// VideoService creates talking-avatar clips for dialogue lines.
type VideoService struct {
	client        video.Client
	executor      *SequentialExecutor
	personas      []models.Persona
	maxTextLength int
	metrics       *utils.APIMetrics
	newTag        func() string
}

func NewVideoService(client video.Client, executor *SequentialExecutor, maxTextLength int) *VideoService {
	if maxTextLength <= 3 {
		maxTextLength = defaultMaxVideoText
	}
	return &VideoService{
		client:        client,
		executor:      executor,
		personas:      models.DefaultPersonas,
		maxTextLength: maxTextLength,
		metrics:       utils.NewAPIMetrics(),
		newTag: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
}

// CreateVideos requests one clip per line, strictly in order. The returned
// batch always has one job id per line; failed lines hold a sentinel and a
// "Line N: reason" warning. When no line succeeded the batch is returned
// together with a VideoGenerationError.
func (s *VideoService) CreateVideos(ctx context.Context, lines []models.DialogueLine) (*models.VideoBatch, error) {
	if len(lines) == 0 {
		return nil, apperrors.NewValidationError("Dialogue array is required", nil)
	}

	start := time.Now()
	batch := &models.VideoBatch{
		JobIDs:   make([]models.VideoJobID, 0, len(lines)),
		Warnings: []string{},
	}

	for i, line := range lines {
		n := i + 1
		text := strings.TrimSpace(line.Text)
		if text == "" {
			s.fail(batch, n, "missing text")
			continue
		}
		text = s.truncate(text)

		avatar, voice := s.voiceFor(line.Character)
		var jobID string
		err := s.executor.Do(ctx, func(ctx context.Context) error {
			callStart := time.Now()
			id, err := s.client.CreateTalk(ctx, video.TalkRequest{Text: text, AvatarURL: avatar, VoiceID: voice})
			s.metrics.RecordVendorCall("d-id", err == nil, time.Since(callStart))
			jobID = id
			return err
		})
		if err != nil {
			utils.GetLogger().Warn("video creation failed", map[string]interface{}{
				"line":      n,
				"character": line.Character,
				"error":     err.Error(),
			})
			s.fail(batch, n, failureReason(err))
			continue
		}

		batch.JobIDs = append(batch.JobIDs, models.VideoJobID(jobID))
		batch.SuccessCount++
	}

	switch {
	case batch.SuccessCount == 0:
		batch.Message = msgNoVideos
		s.metrics.RecordStage("video", "error", time.Since(start))
		return batch, apperrors.NewVideoGenerationError(msgNoVideos, nil)
	case len(batch.Warnings) > 0:
		batch.Message = fmt.Sprintf("%d/%d videos created successfully", batch.SuccessCount, len(lines))
		s.metrics.RecordStage("video", "partial", time.Since(start))
	default:
		batch.Message = msgAllVideos
		s.metrics.RecordStage("video", "success", time.Since(start))
	}

	utils.GetLogger().Info("video batch finished", map[string]interface{}{
		"lines":     len(lines),
		"succeeded": batch.SuccessCount,
		"duration":  time.Since(start).String(),
	})
	return batch, nil
}

func (s *VideoService) fail(batch *models.VideoBatch, n int, reason string) {
	batch.JobIDs = append(batch.JobIDs, models.NewSentinel(n, s.newTag()))
	batch.Warnings = append(batch.Warnings, fmt.Sprintf("Line %d: %s", n, reason))
}

// truncate caps text at maxTextLength runes including the "..." suffix.
func (s *VideoService) truncate(text string) string {
	if utf8.RuneCountInString(text) <= s.maxTextLength {
		return text
	}
	return string([]rune(text)[:s.maxTextLength-3]) + "..."
}

func (s *VideoService) voiceFor(character string) (avatar, voice string) {
	if p, ok := models.FindPersona(s.personas, character); ok {
		return p.AvatarURL, p.VoiceID
	}
	return s.personas[0].AvatarURL, defaultVoiceID
}

func failureReason(err error) string {
	var apiErr *video.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	return err.Error()
}

// Status reports a job's progress. Sentinel ids resolve to an error status
// without contacting the vendor.
func (s *VideoService) Status(ctx context.Context, jobID models.VideoJobID) (*models.VideoJob, error) {
	if strings.TrimSpace(string(jobID)) == "" {
		return nil, apperrors.NewValidationError("Video ID is required", nil)
	}
	if jobID.IsSentinel() {
		return &models.VideoJob{ID: jobID, Status: models.VideoStatusError, Error: "video was not created"}, nil
	}

	talk, err := s.client.GetTalk(ctx, string(jobID))
	if err != nil {
		var apiErr *video.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, apperrors.NewNotFoundError("Video not found", err)
		}
		return nil, apperrors.NewServiceUnavailableError("Failed to check video status", err)
	}

	job := video.ToVideoJob(talk)
	job.ID = jobID
	return &job, nil
}
