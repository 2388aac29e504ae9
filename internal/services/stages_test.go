// internal/services/stages_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSummary = "A long journey across a divided kingdom, told by three siblings."

func newSummaryService(gen TextGenerator) *SummaryService {
	s := NewSummaryService(gen, time.Second)
	s.Model = "test-model"
	return s
}

func newDialogueService(gen TextGenerator) *DialogueService {
	s := NewDialogueService(gen, time.Second)
	s.Model = "test-model"
	return s
}

func TestSummarizeValidationMakesNoVendorCall(t *testing.T) {
	gen := newFakeGenerator("summary")
	svc := newSummaryService(gen)

	_, err := svc.Summarize(context.Background(), "  ab ", "Tolstoy")
	assert.True(t, apperrors.IsValidationError(err))

	_, err = svc.Summarize(context.Background(), "War and Peace", " L ")
	assert.True(t, apperrors.IsValidationError(err))

	assert.Equal(t, 0, gen.Calls())
}

func TestSummarizeTrimsAndCaches(t *testing.T) {
	gen := newFakeGenerator("  A sweeping novel.  ")
	svc := newSummaryService(gen)

	got, err := svc.Summarize(context.Background(), "  War and Peace ", " Leo Tolstoy ")
	require.NoError(t, err)
	assert.Equal(t, "A sweeping novel.", got)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], `"War and Peace" by Leo Tolstoy`)

	_, err = svc.Summarize(context.Background(), "war and peace", "leo tolstoy")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.Calls())
}

func TestSummarizeErrorsKeepReasonInMessage(t *testing.T) {
	gen := newFakeGenerator("   ")
	svc := newSummaryService(gen)

	_, err := svc.Summarize(context.Background(), "Dune", "Herbert")
	require.Error(t, err)
	assert.True(t, apperrors.IsEmptyResultError(err))
	assert.Contains(t, err.Error(), "Failed to generate summary (could not find a summary)")

	gen = newFakeGenerator("")
	gen.err = errors.New("connection refused")
	_, err = newSummaryService(gen).Summarize(context.Background(), "Dune", "Herbert")
	assert.True(t, apperrors.IsServiceUnavailableError(err))
	assert.Contains(t, err.Error(), "Failed to generate summary (service unavailable)")

	gen = newFakeGenerator("")
	gen.err = &llm.APIError{Provider: "gemini", StatusCode: 429, Body: "quota"}
	_, err = newSummaryService(gen).Summarize(context.Background(), "Dune", "Herbert")
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.TypeOf(err))
}

func TestSummarizeTimeout(t *testing.T) {
	gen := newFakeGenerator("late")
	gen.block = make(chan struct{})
	defer close(gen.block)

	svc := NewSummaryService(gen, 20*time.Millisecond)
	svc.Model = "test-model"
	_, err := svc.Summarize(context.Background(), "Dune", "Herbert")
	assert.True(t, apperrors.IsTimeoutError(err))
}

func TestSummarizeNotReady(t *testing.T) {
	gen := newFakeGenerator("x")
	gen.ready = false
	_, err := newSummaryService(gen).Summarize(context.Background(), "Dune", "Herbert")
	assert.True(t, apperrors.IsServiceUnavailableError(err))
	assert.Equal(t, 0, gen.Calls())
}

func TestDialogueRepairsUnknownEmotion(t *testing.T) {
	reply := "```json\n[{\"character\":\"Professor Wise\",\"text\":\"Consider the river.\",\"emotion\":\"ecstatic\"}]\n```"
	d, err := newDialogueService(newFakeGenerator(reply)).Generate(context.Background(), testSummary, nil)
	require.NoError(t, err)
	require.Len(t, d.Lines, 1)
	assert.False(t, d.Degraded)
	assert.Equal(t, models.DialogueLine{
		Character: "Professor Wise",
		Text:      "Consider the river.",
		Emotion:   models.EmotionThoughtful,
	}, d.Lines[0])
}

func TestDialogueRepairsMissingFields(t *testing.T) {
	reply := `Here you go: [{"character":"Nobody","text":"","emotion":"sad"},{"text":"Why though?"}] hope it helps`
	d, err := newDialogueService(newFakeGenerator(reply)).Generate(context.Background(), testSummary, nil)
	require.NoError(t, err)
	require.Len(t, d.Lines, 2)

	assert.Equal(t, "Professor Wise", d.Lines[0].Character)
	assert.Equal(t, placeholderText, d.Lines[0].Text)
	assert.Equal(t, models.EmotionSad, d.Lines[0].Emotion)

	assert.Equal(t, "Curious Charlie", d.Lines[1].Character)
	assert.Equal(t, "Why though?", d.Lines[1].Text)
	assert.Equal(t, models.EmotionExcited, d.Lines[1].Emotion)
}

func TestDialogueCapsText(t *testing.T) {
	long := strings.Repeat("é", maxDialogueRunes+50)
	reply := `[{"character":"Emotional Emma","text":"` + long + `","emotion":"happy"}]`
	d, err := newDialogueService(newFakeGenerator(reply)).Generate(context.Background(), testSummary, nil)
	require.NoError(t, err)
	assert.Equal(t, maxDialogueRunes, utf8.RuneCountInString(d.Lines[0].Text))
	assert.Len(t, d.Warnings, 1)
}

func TestDialogueFallbackIsDegraded(t *testing.T) {
	d, err := newDialogueService(newFakeGenerator("I cannot produce JSON today.")).Generate(context.Background(), testSummary, nil)
	require.NoError(t, err)
	assert.True(t, d.Degraded)
	assert.NotEmpty(t, d.Warnings)
	require.Len(t, d.Lines, len(models.DefaultPersonas))
	for i, p := range models.DefaultPersonas {
		assert.Equal(t, p.Name, d.Lines[i].Character)
		assert.Equal(t, "Let's discuss the key themes of this book from my perspective as "+p.Name+".", d.Lines[i].Text)
		assert.Equal(t, p.DefaultEmotion, d.Lines[i].Emotion)
	}
}

func TestDialogueVendorFailureIsNotMasked(t *testing.T) {
	gen := newFakeGenerator("")
	gen.err = errors.New("dial tcp: i/o timeout")
	d, err := newDialogueService(gen).Generate(context.Background(), testSummary, nil)
	assert.Nil(t, d)
	assert.True(t, apperrors.IsServiceUnavailableError(err))
}

func TestDialogueValidation(t *testing.T) {
	gen := newFakeGenerator("[]")
	svc := newDialogueService(gen)

	_, err := svc.Generate(context.Background(), "too short", nil)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = svc.Generate(context.Background(), testSummary, []models.Persona{{Name: "X"}})
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, 0, gen.Calls())
}

func TestCleanJSONStringFindsFirstArray(t *testing.T) {
	raw := "noise ```json\n[{\"text\":\"a ] tricky [ string\"}] trailing ] junk"
	assert.Equal(t, `[{"text":"a ] tricky [ string"}]`, cleanJSONString(raw, '['))
	assert.Equal(t, "", cleanJSONString("no json here", '['))
}

func dialogueLines(texts ...string) []models.DialogueLine {
	lines := make([]models.DialogueLine, 0, len(texts))
	for i, text := range texts {
		lines = append(lines, models.DialogueLine{
			Character: models.DefaultPersonas[i%len(models.DefaultPersonas)].Name,
			Text:      text,
			Emotion:   models.EmotionNeutral,
		})
	}
	return lines
}

func TestCreateVideosPartialFailure(t *testing.T) {
	client := newFakeVideoClient()
	client.failLines[2] = "Insufficient credits"
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)

	batch, err := svc.CreateVideos(context.Background(), dialogueLines("one", "two", "three"))
	require.NoError(t, err)
	require.Len(t, batch.JobIDs, 3)

	assert.Equal(t, models.VideoJobID("tlk_1"), batch.JobIDs[0])
	assert.True(t, batch.JobIDs[1].IsSentinel())
	assert.True(t, strings.HasPrefix(string(batch.JobIDs[1]), "error_2_"))
	assert.Equal(t, models.VideoJobID("tlk_3"), batch.JobIDs[2])

	require.Len(t, batch.Warnings, 1)
	assert.Equal(t, "Line 2: Insufficient credits", batch.Warnings[0])
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, "2/3 videos created successfully", batch.Message)
}

func TestCreateVideosTotalFailure(t *testing.T) {
	client := newFakeVideoClient()
	client.failLines[1] = "boom"
	client.failLines[2] = "boom"
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)

	batch, err := svc.CreateVideos(context.Background(), dialogueLines("one", "two"))
	require.Error(t, err)
	assert.True(t, apperrors.IsVideoGenerationError(err))
	assert.Equal(t, "No videos were created successfully", err.Error())

	require.NotNil(t, batch)
	require.Len(t, batch.JobIDs, 2)
	assert.True(t, batch.JobIDs[0].IsSentinel())
	assert.True(t, batch.JobIDs[1].IsSentinel())
	assert.NotEqual(t, batch.JobIDs[0], batch.JobIDs[1])
	assert.Len(t, batch.Warnings, 2)
}

func TestCreateVideosSentinelsAreDistinct(t *testing.T) {
	client := newFakeVideoClient()
	client.failLines[1] = "boom"
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)

	batch, err := svc.CreateVideos(context.Background(), dialogueLines("", "   ", "ok"))
	assert.True(t, apperrors.IsVideoGenerationError(err))
	require.NotNil(t, batch)
	require.Len(t, batch.JobIDs, 3)
	assert.NotEqual(t, batch.JobIDs[0], batch.JobIDs[1])
	// blank lines never reach the vendor, so line 3 is the first request
	assert.Equal(t, []string{"Line 1: missing text", "Line 2: missing text", "Line 3: boom"}, batch.Warnings)
	assert.Len(t, client.Requests(), 1)
}

func TestCreateVideosTruncatesAndUsesPersonaVoice(t *testing.T) {
	client := newFakeVideoClient()
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)

	long := strings.Repeat("word ", 200)
	batch, err := svc.CreateVideos(context.Background(), []models.DialogueLine{
		{Character: "Curious Charlie", Text: long},
		{Character: "Somebody Else", Text: "short"},
	})
	require.NoError(t, err)
	assert.Equal(t, "All videos created successfully", batch.Message)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 500, utf8.RuneCountInString(reqs[0].Text))
	assert.True(t, strings.HasSuffix(reqs[0].Text, "..."))
	assert.Equal(t, "Drew", reqs[0].VoiceID)
	assert.Equal(t, "Rachel", reqs[1].VoiceID)
	assert.Equal(t, models.DefaultPersonas[0].AvatarURL, reqs[1].AvatarURL)
}

func TestSequentialExecutorPacesCalls(t *testing.T) {
	exec := NewSequentialExecutor(40 * time.Millisecond)
	var starts []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Do(context.Background(), func(context.Context) error {
			starts = append(starts, time.Now())
			return nil
		}))
	}
	require.Len(t, starts, 3)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[0]), 70*time.Millisecond)
}

func TestSequentialExecutorHonoursContext(t *testing.T) {
	exec := NewSequentialExecutor(time.Hour)
	require.NoError(t, exec.Do(context.Background(), func(context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := exec.Do(ctx, func(context.Context) error { ran = true; return nil })
	assert.Error(t, err)
	assert.False(t, ran)
}

func TestVideoStatusSentinelSkipsVendor(t *testing.T) {
	client := newFakeVideoClient()
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)

	job, err := svc.Status(context.Background(), models.NewSentinel(3, "abc"))
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusError, job.Status)
	assert.Empty(t, client.getCalls)

	client.statuses["tlk_1"] = []string{"started"}
	job, err = svc.Status(context.Background(), "tlk_1")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusProcessing, job.Status)

	_, err = svc.Status(context.Background(), "")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestLLMServiceCachesResponses(t *testing.T) {
	provider := &fakeProvider{reply: "hello"}
	svc := NewLLMServiceWithProvider(provider)
	req := llm.CompletionRequest{Prompt: "p", Model: "m"}

	for i := 0; i < 3; i++ {
		resp, err := svc.CompleteText(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Text)
	}
	assert.EqualValues(t, 1, provider.calls)

	_, err := NewEmptyLLMService().CompleteText(context.Background(), req)
	assert.ErrorIs(t, err, ErrLLMNotReady)
}
