// internal/video/client.go
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/ShelfTalk/internal/models"
)

const (
	DefaultBaseURL = "https://api.d-id.com"

	createTimeout = 30 * time.Second
	statusTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("D-ID API key not configured")

// TalkRequest asks for one talking-avatar clip.
type TalkRequest struct {
	Text      string
	AvatarURL string
	VoiceID   string
}

// Talk is the vendor's view of a job.
type Talk struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ResultURL   string     `json:"result_url,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *struct {
		Kind        string `json:"kind"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
}

// Client is the talking-avatar vendor.
type Client interface {
	CreateTalk(ctx context.Context, req TalkRequest) (string, error)
	GetTalk(ctx context.Context, id string) (*Talk, error)
}

// APIError is a non-success answer from the vendor. Message carries the
// vendor's own message when the body had one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("D-ID API error (%d): %s", e.StatusCode, e.Message)
}

// DIDClient calls the D-ID talks API.
type DIDClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewDIDClient(apiKey, baseURL string) *DIDClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &DIDClient{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

type talkPayload struct {
	Script struct {
		Type     string `json:"type"`
		Input    string `json:"input"`
		Provider struct {
			Type    string `json:"type"`
			VoiceID string `json:"voice_id"`
		} `json:"provider"`
	} `json:"script"`
	SourceURL string `json:"source_url"`
	Config    struct {
		Fluent       bool    `json:"fluent"`
		PadAudio     float64 `json:"pad_audio"`
		Stitch       bool    `json:"stitch"`
		ResultFormat string  `json:"result_format"`
	} `json:"config"`
}

func (c *DIDClient) CreateTalk(ctx context.Context, req TalkRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	var payload talkPayload
	payload.Script.Type = "text"
	payload.Script.Input = req.Text
	payload.Script.Provider.Type = "elevenlabs"
	payload.Script.Provider.VoiceID = req.VoiceID
	payload.SourceURL = req.AvatarURL
	payload.Config.Fluent = true
	payload.Config.Stitch = true
	payload.Config.ResultFormat = "mp4"

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/talks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(httpReq, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("no video ID returned")
	}
	return created.ID, nil
}

func (c *DIDClient) GetTalk(ctx context.Context, id string) (*Talk, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/talks/"+id, nil)
	if err != nil {
		return nil, err
	}

	var talk Talk
	if err := c.do(httpReq, &talk); err != nil {
		return nil, err
	}
	if talk.ID == "" {
		talk.ID = id
	}
	return &talk, nil
}

func (c *DIDClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Basic "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: vendorMessage(data, resp.Status)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode D-ID response: %w", err)
	}
	return nil
}

// vendorMessage prefers the body's message, then error, then the status text.
func vendorMessage(body []byte, fallback string) string {
	var parsed struct {
		Message     string          `json:"message"`
		Error       json.RawMessage `json:"error"`
		Description string          `json:"description"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if len(parsed.Error) > 0 {
			var s string
			if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
				return s
			}
			return string(parsed.Error)
		}
		if parsed.Description != "" {
			return parsed.Description
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return fallback
}

// ToVideoJob maps a vendor talk onto the shared job model.
func ToVideoJob(t *Talk) models.VideoJob {
	job := models.VideoJob{
		ID:          models.VideoJobID(t.ID),
		ResultURL:   t.ResultURL,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	switch strings.ToLower(t.Status) {
	case "done":
		job.Status = models.VideoStatusDone
	case "error", "rejected":
		job.Status = models.VideoStatusError
	case "started", "processing":
		job.Status = models.VideoStatusProcessing
	default:
		job.Status = models.VideoStatusCreated
	}
	if t.Error != nil {
		job.Error = t.Error.Description
		if job.Error == "" {
			job.Error = t.Error.Kind
		}
	}
	return job
}
