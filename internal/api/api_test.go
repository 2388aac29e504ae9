// internal/api/api_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Corphon/ShelfTalk/internal/auth"
	"github.com/Corphon/ShelfTalk/internal/content"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/services"
	"github.com/Corphon/ShelfTalk/internal/storage"
	"github.com/Corphon/ShelfTalk/internal/video"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-test-secret-test-secret"

// scriptedProvider answers with the reply registered for the first prompt
// keyword it finds.
type scriptedProvider struct {
	calls   int32
	replies map[string]string
}

func (p *scriptedProvider) Initialize(map[string]string) error { return nil }
func (p *scriptedProvider) GetName() string { return "scripted" }
func (p *scriptedProvider) GetSupportedModels() []string { return []string{"scripted-1"} }
func (p *scriptedProvider) CompleteText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	atomic.AddInt32(&p.calls, 1)
	for keyword, reply := range p.replies {
		if strings.Contains(req.Prompt, keyword) {
			return &llm.CompletionResponse{Text: reply}, nil
		}
	}
	return &llm.CompletionResponse{Text: "generic reply"}, nil
}

func (p *scriptedProvider) Calls() int { return int(atomic.LoadInt32(&p.calls)) }

// stubVideoClient fails every request when failAll is set.
type stubVideoClient struct {
	mu      sync.Mutex
	failAll bool
	n       int
}

func (c *stubVideoClient) CreateTalk(context.Context, video.TalkRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.failAll {
		return "", &video.APIError{StatusCode: 402, Message: "Insufficient credits"}
	}
	return fmt.Sprintf("tlk_%d", c.n), nil
}

func (c *stubVideoClient) GetTalk(_ context.Context, id string) (*video.Talk, error) {
	return &video.Talk{ID: id, Status: "started"}, nil
}

type testServer struct {
	router   *gin.Engine
	provider *scriptedProvider
	videos   *stubVideoClient
	tokens   *auth.TokenConfig
	hub      *DiscussionHub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	media, err := storage.NewLocalMediaStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	provider := &scriptedProvider{replies: map[string]string{
		"Create a summary": "A sweeping tale of two cities and the people caught between them.",
		"discussion":       `[{"character":"Professor Wise","text":"Consider the symbolism.","emotion":"thoughtful"}]`,
		"blog post":        "Short blog summary.",
	}}
	llmService := services.NewLLMServiceWithProvider(provider)

	summaries := services.NewSummaryService(llmService, time.Second)
	summaries.Model = "scripted-1"
	dialogues := services.NewDialogueService(llmService, time.Second)
	dialogues.Model = "scripted-1"
	videoClient := &stubVideoClient{}
	videoSvc := services.NewVideoService(videoClient, services.NewSequentialExecutor(0), 500)
	discussions := services.NewDiscussionService(summaries, dialogues, videoSvc,
		services.NewVideoPoller(videoSvc, time.Hour), services.DiscussionOptions{})
	t.Cleanup(discussions.Close)

	sanitizer := content.NewSanitizer()
	renderer := content.NewRenderer(sanitizer, content.NewCodec(sanitizer))
	contents := services.NewContentService(storage.NewFileContentStore(files), renderer, llmService, time.Second)
	contents.Model = "scripted-1"

	hub := NewDiscussionHub(nil)
	discussions.SetNotifier(hub)
	t.Cleanup(hub.Close)

	tokens := NewTokenConfig(testSecret)
	h := NewHandler(HandlerDeps{
		Contents:    contents,
		Renderer:    renderer,
		Summaries:   summaries,
		Dialogues:   dialogues,
		Videos:      videoSvc,
		Discussions: discussions,
		LLM:         llmService,
		Media:       media,
		Hub:         hub,
	})
	router := SetupRouter(h, RouterOptions{DebugMode: true, Tokens: tokens, ViewRateLimit: 3})

	return &testServer{router: router, provider: provider, videos: videoClient, tokens: tokens, hub: hub}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(models.Identity{UserID: userID, DisplayName: "User " + userID}, s.tokens)
	require.NoError(t, err)
	return token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Message string          `json:"message"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestBlogLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, "alice")
	bob := s.token(t, "bob")

	rec, env := s.do(t, http.MethodPost, "/api/blogs", "", gin.H{"title": "Hi", "content": "<p>x</p>"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ErrorUnauthorized, env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/blogs", alice, gin.H{
		"title":        "First post",
		"content":      "# Hello\n\nWorld",
		"content_type": "markdown",
		"tags":         []string{"idea"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[models.ContentDocument](t, env.Data)
	assert.Equal(t, "alice", doc.CreatedBy)
	assert.Equal(t, "User alice", doc.Author)

	rec, env = s.do(t, http.MethodPut, "/api/blogs/"+doc.ID, bob, gin.H{"title": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, env = s.do(t, http.MethodPut, "/api/blogs/"+doc.ID, alice, gin.H{"title": "Renamed", "plain_text_content": "ignored"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.ContentDocument](t, env.Data)
	assert.Equal(t, "Renamed", updated.Title)
	assert.NotEqual(t, "ignored", updated.PlainTextContent)

	rec, env = s.do(t, http.MethodGet, "/api/blogs/"+doc.ID+"/render", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rendered := decode[services.RenderedDocument](t, env.Data)
	assert.Contains(t, rendered.HTML, "Hello")

	rec, env = s.do(t, http.MethodGet, "/api/blogs?tags=idea", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.ContentDocument](t, env.Data), 1)

	rec, _ = s.do(t, http.MethodGet, "/api/blogs?tags=gossip", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/blogs/mine", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.ContentDocument](t, env.Data), 1)

	rec, env = s.do(t, http.MethodPost, "/api/blogs/"+doc.ID+"/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Short blog summary.", decode[map[string]string](t, env.Data)["summary"])

	rec, _ = s.do(t, http.MethodDelete, "/api/blogs/"+doc.ID, alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env = s.do(t, http.MethodGet, "/api/blogs/"+doc.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestInvalidTokenIsTreatedAsGuest(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/api/blogs", "not-a-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/blogs", "not-a-token", gin.H{"title": "t", "content": "c"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", env.Error.Message)
}

func TestBlogViewsAreRateLimited(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, "alice")

	_, env := s.do(t, http.MethodPost, "/api/blogs", alice, gin.H{"title": "Post", "content": "<p>x</p>"})
	doc := decode[models.ContentDocument](t, env.Data)

	for i := 1; i <= 3; i++ {
		rec, env := s.do(t, http.MethodPost, "/api/blogs/"+doc.ID+"/views", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, i, decode[map[string]interface{}](t, env.Data)["views"])
	}
	rec, env := s.do(t, http.MethodPost, "/api/blogs/"+doc.ID+"/views", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ErrorRateLimited, env.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestContentConversionEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/content/markdown", "", gin.H{
		"html": "<table><tr><th>A</th><th>B</th></tr><tr><td>1</td><td>2</td></tr></table>",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	markdown := decode[map[string]string](t, env.Data)["markdown"]
	assert.Contains(t, markdown, "A | B\n--- | ---\n1 | 2")

	rec, env = s.do(t, http.MethodPost, "/api/content/sanitize", "", gin.H{
		"html": `<img src="x.png" onerror="alert(1)">`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode[map[string]string](t, env.Data)["html"], "onerror")

	rec, env = s.do(t, http.MethodPost, "/api/content/plaintext", "", gin.H{
		"content": "<p>Hello <em>there</em></p>", "content_type": "html",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello there", decode[map[string]string](t, env.Data)["text"])

	rec, _ = s.do(t, http.MethodPost, "/api/content/plaintext", "", gin.H{"content": "x", "content_type": "rtf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarizeValidationSkipsVendor(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/discussions/summarize", "", gin.H{"title": "ab", "author": "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Zero(t, s.provider.Calls())
}

func TestStatelessVideosTotalFailureKeepsBatch(t *testing.T) {
	s := newTestServer(t)
	s.videos.failAll = true

	rec, env := s.do(t, http.MethodPost, "/api/discussions/videos", "", gin.H{
		"dialogue": []models.DialogueLine{{Character: "Professor Wise", Text: "Hello", Emotion: "happy"}},
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "VIDEO_GENERATION_FAILED", env.Error.Code)
	batch := decode[models.VideoBatch](t, env.Data)
	require.Len(t, batch.JobIDs, 1)
	assert.True(t, batch.JobIDs[0].IsSentinel())
	assert.Equal(t, []string{"Line 1: Insufficient credits"}, batch.Warnings)
}

func TestSessionWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/discussions/sessions", "", gin.H{"title": "A Tale of Two Cities", "author": "Charles Dickens"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[models.WorkflowResult](t, env.Data)
	assert.Equal(t, models.StateIdle, session.State)
	base := "/api/discussions/sessions/" + session.SessionID

	rec, env = s.do(t, http.MethodPost, base+"/dialogue", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodPost, base+"/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StateSummarized, decode[models.WorkflowResult](t, env.Data).State)

	rec, env = s.do(t, http.MethodPost, base+"/dialogue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[models.WorkflowResult](t, env.Data)
	assert.Equal(t, models.StateDialogueReady, res.State)
	require.Len(t, res.Dialogue, 1)

	s.videos.failAll = true
	rec, env = s.do(t, http.MethodPost, base+"/videos", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	res = decode[models.WorkflowResult](t, env.Data)
	assert.Equal(t, models.StateDialogueReady, res.State)
	assert.NotEmpty(t, res.Summary)
	require.NotNil(t, res.LastError)

	rec, env = s.do(t, http.MethodPost, base+"/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StateIdle, decode[models.WorkflowResult](t, env.Data).State)

	rec, _ = s.do(t, http.MethodDelete, base, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadImage(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, "alice")

	upload := func(token string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile("file", "image.bin")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

	assert.Equal(t, http.StatusUnauthorized, upload("", png).Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, upload(alice, []byte("plain text, not an image")).Code)

	rec := upload(alice, png)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, "image/png", data["content_type"])
	assert.True(t, strings.HasPrefix(data["url"].(string), "/uploads/images/alice/"))
}

func TestDiscussionWebSocketReceivesEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, env := s.do(t, http.MethodPost, "/api/discussions/sessions", "", gin.H{"title": "Dune", "author": "Frank Herbert"})
	session := decode[models.WorkflowResult](t, env.Data)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/discussions/" + session.SessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() SessionEvent {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev SessionEvent
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	first := readEvent()
	assert.Equal(t, services.EventSessionState, first.Type)
	assert.Equal(t, session.SessionID, first.SessionID)

	require.Eventually(t, func() bool { return s.hub.ClientCount(session.SessionID) == 1 }, time.Second, 5*time.Millisecond)
	rec, _ := s.do(t, http.MethodPost, "/api/discussions/sessions/"+session.SessionID+"/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ev := readEvent()
	assert.Equal(t, services.EventSessionState, ev.Type)
}

func TestWebSocketUnknownSession(t *testing.T) {
	s := newTestServer(t)
	rec, env := s.do(t, http.MethodGet, "/ws/discussions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
