// internal/video/client_test.go
package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTalkSendsPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/talks", r.URL.Path)
		assert.Equal(t, "Basic key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"tlk_1","status":"created"}`))
	}))
	defer srv.Close()

	c := NewDIDClient("key", srv.URL)
	id, err := c.CreateTalk(context.Background(), TalkRequest{Text: "hello", AvatarURL: "https://a/p.png", VoiceID: "Paul"})
	require.NoError(t, err)
	assert.Equal(t, "tlk_1", id)

	script := got["script"].(map[string]interface{})
	assert.Equal(t, "hello", script["input"])
	provider := script["provider"].(map[string]interface{})
	assert.Equal(t, "elevenlabs", provider["type"])
	assert.Equal(t, "Paul", provider["voice_id"])
	assert.Equal(t, "https://a/p.png", got["source_url"])
}

func TestCreateTalkReportsVendorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"kind":"InsufficientCreditsError","description":"not enough credits","message":"Insufficient credits"}`))
	}))
	defer srv.Close()

	_, err := NewDIDClient("key", srv.URL).CreateTalk(context.Background(), TalkRequest{Text: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "Insufficient credits", apiErr.Message)
}

func TestCreateTalkWithoutKey(t *testing.T) {
	_, err := NewDIDClient("", "").CreateTalk(context.Background(), TalkRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGetTalkMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/talks/tlk_9", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"tlk_9","status":"done","result_url":"https://r/v.mp4","created_at":"2025-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	talk, err := NewDIDClient("key", srv.URL).GetTalk(context.Background(), "tlk_9")
	require.NoError(t, err)

	job := ToVideoJob(talk)
	assert.Equal(t, models.VideoStatusDone, job.Status)
	assert.Equal(t, "https://r/v.mp4", job.ResultURL)
	require.NotNil(t, job.CreatedAt)
	assert.Equal(t, 2025, job.CreatedAt.Year())
}

func TestToVideoJobStatuses(t *testing.T) {
	assert.Equal(t, models.VideoStatusProcessing, ToVideoJob(&Talk{Status: "started"}).Status)
	assert.Equal(t, models.VideoStatusCreated, ToVideoJob(&Talk{Status: "created"}).Status)
	assert.Equal(t, models.VideoStatusError, ToVideoJob(&Talk{Status: "rejected"}).Status)
}
