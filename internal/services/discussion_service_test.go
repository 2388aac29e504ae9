// internal/services/discussion_service_test.go
package services

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dialogueReply = `[
	{"character":"Professor Wise","text":"The river is a metaphor.","emotion":"thoughtful"},
	{"character":"Curious Charlie","text":"Is it though?","emotion":"surprised"}
]`

type discussionFixture struct {
	svc       *DiscussionService
	summary   *fakeGenerator
	dialogue  *fakeGenerator
	videos    *fakeVideoClient
	notifier  *recordingNotifier
	sessionID string
}

func newDiscussionFixture(t *testing.T) *discussionFixture {
	t.Helper()
	f := &discussionFixture{
		summary:  newFakeGenerator(testSummary),
		dialogue: newFakeGenerator(dialogueReply),
		videos:   newFakeVideoClient(),
		notifier: &recordingNotifier{},
	}
	videoSvc := NewVideoService(f.videos, NewSequentialExecutor(0), 500)
	f.svc = NewDiscussionService(
		newSummaryService(f.summary),
		newDialogueService(f.dialogue),
		videoSvc,
		NewVideoPoller(videoSvc, 5*time.Millisecond),
		DiscussionOptions{},
	)
	f.svc.SetNotifier(f.notifier)
	t.Cleanup(f.svc.Close)

	f.sessionID = f.svc.CreateSession("The Long River", "A. Writer", nil).SessionID
	return f
}

func TestDiscussionRunsStagesInOrder(t *testing.T) {
	f := newDiscussionFixture(t)
	ctx := context.Background()

	res, err := f.svc.RunSummary(ctx, f.sessionID, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.StateSummarized, res.State)
	assert.Equal(t, testSummary, res.Summary)

	res, err = f.svc.RunDialogue(ctx, f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDialogueReady, res.State)
	require.Len(t, res.Dialogue, 2)
	assert.Equal(t, testSummary, res.Summary)

	f.videos.statuses["tlk_1"] = []string{"started", "done"}
	f.videos.statuses["tlk_2"] = []string{"done"}
	res, err = f.svc.RunVideos(ctx, f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateVideoComplete, res.State)
	assert.Equal(t, []models.VideoJobID{"tlk_1", "tlk_2"}, res.VideoJobIDs)
	assert.Equal(t, models.VideoJobID("tlk_1"), res.Dialogue[0].VideoJobID)
	assert.Equal(t, "All videos created successfully", res.Message)

	assert.Eventually(t, func() bool {
		snap, err := f.svc.GetSession(f.sessionID)
		if err != nil || len(snap.Videos) != 2 {
			return false
		}
		return snap.Videos[0].Status == models.VideoStatusDone && snap.Videos[1].Status == models.VideoStatusDone
	}, time.Second, 5*time.Millisecond)
	assert.Positive(t, f.notifier.Count(EventVideoStatus))
}

func TestDiscussionStageFailureKeepsPreviousOutput(t *testing.T) {
	f := newDiscussionFixture(t)
	ctx := context.Background()

	_, err := f.svc.RunSummary(ctx, f.sessionID, "", "")
	require.NoError(t, err)

	f.dialogue.err = errors.New("upstream down")
	res, err := f.svc.RunDialogue(ctx, f.sessionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsServiceUnavailableError(err))

	require.NotNil(t, res)
	assert.Equal(t, models.StateSummarized, res.State)
	assert.Equal(t, testSummary, res.Summary)
	require.NotNil(t, res.LastError)
	assert.Equal(t, "dialogue", res.LastError.Stage)
	assert.Equal(t, "SERVICE_UNAVAILABLE", res.LastError.Code)
}

func TestDiscussionTotalVideoFailureStaysAtDialogueReady(t *testing.T) {
	f := newDiscussionFixture(t)
	ctx := context.Background()

	_, err := f.svc.RunSummary(ctx, f.sessionID, "", "")
	require.NoError(t, err)
	_, err = f.svc.RunDialogue(ctx, f.sessionID)
	require.NoError(t, err)

	f.videos.failLines[1] = "no credits"
	f.videos.failLines[2] = "no credits"
	res, err := f.svc.RunVideos(ctx, f.sessionID)
	assert.True(t, apperrors.IsVideoGenerationError(err))

	require.NotNil(t, res)
	assert.Equal(t, models.StateDialogueReady, res.State)
	require.Len(t, res.VideoJobIDs, 2)
	assert.True(t, res.VideoJobIDs[0].IsSentinel())
	assert.True(t, res.VideoJobIDs[1].IsSentinel())
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, "no credits", res.Videos[0].Error)
	require.NotNil(t, res.LastError)
	assert.Equal(t, "video", res.LastError.Stage)
}

func TestDiscussionPartialVideoFailure(t *testing.T) {
	f := newDiscussionFixture(t)
	ctx := context.Background()

	_, err := f.svc.RunSummary(ctx, f.sessionID, "", "")
	require.NoError(t, err)
	_, err = f.svc.RunDialogue(ctx, f.sessionID)
	require.NoError(t, err)

	f.videos.failLines[2] = "bad voice"
	f.videos.statuses["tlk_1"] = []string{"started"}
	res, err := f.svc.RunVideos(ctx, f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateVideoPartial, res.State)
	assert.Equal(t, []string{"Line 2: bad voice"}, res.Warnings)
	assert.Equal(t, "1/2 videos created successfully", res.Message)

	tasks, err := f.svc.PollTasks(f.sessionID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestDiscussionRejectsConcurrentStage(t *testing.T) {
	f := newDiscussionFixture(t)
	f.summary.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunSummary(context.Background(), f.sessionID, "", "")
		done <- err
	}()

	require.Eventually(t, func() bool {
		snap, _ := f.svc.GetSession(f.sessionID)
		return snap.State == models.StateSummarizing
	}, time.Second, time.Millisecond)

	_, err := f.svc.RunSummary(context.Background(), f.sessionID, "", "")
	assert.True(t, apperrors.IsConflictError(err))

	close(f.summary.block)
	require.NoError(t, <-done)
}

func TestDiscussionResetDiscardsInFlightResult(t *testing.T) {
	f := newDiscussionFixture(t)
	f.summary.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunSummary(context.Background(), f.sessionID, "", "")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return f.summary.Calls() == 1
	}, time.Second, time.Millisecond)

	res, err := f.svc.Reset(f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, res.State)

	close(f.summary.block)
	assert.True(t, apperrors.IsConflictError(<-done))

	snap, err := f.svc.GetSession(f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, snap.State)
	assert.Empty(t, snap.Summary)
}

func TestDiscussionStopCancelsPolling(t *testing.T) {
	f := newDiscussionFixture(t)
	ctx := context.Background()

	_, err := f.svc.RunSummary(ctx, f.sessionID, "", "")
	require.NoError(t, err)
	_, err = f.svc.RunDialogue(ctx, f.sessionID)
	require.NoError(t, err)

	f.videos.statuses["tlk_1"] = []string{"started"}
	f.videos.statuses["tlk_2"] = []string{"started"}
	_, err = f.svc.RunVideos(ctx, f.sessionID)
	require.NoError(t, err)

	tasks, err := f.svc.PollTasks(f.sessionID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	res, err := f.svc.Stop(f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateVideoComplete, res.State)
	for _, task := range tasks {
		select {
		case <-task.Done():
		case <-time.After(time.Second):
			t.Fatal("poll task did not stop")
		}
		assert.Equal(t, PollPending, task.State())
	}
}

func TestDiscussionNewSummaryClearsLaterStages(t *testing.T) {
	f := newDiscussionFixture(t)
	ctx := context.Background()

	_, err := f.svc.RunSummary(ctx, f.sessionID, "", "")
	require.NoError(t, err)
	_, err = f.svc.RunDialogue(ctx, f.sessionID)
	require.NoError(t, err)

	res, err := f.svc.RunSummary(ctx, f.sessionID, "Another Book", "")
	require.NoError(t, err)
	assert.Equal(t, "Another Book", res.Title)
	assert.Empty(t, res.Dialogue)
	assert.Empty(t, res.VideoJobIDs)
}

func TestDiscussionStagePrerequisites(t *testing.T) {
	f := newDiscussionFixture(t)

	_, err := f.svc.RunDialogue(context.Background(), f.sessionID)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = f.svc.RunVideos(context.Background(), f.sessionID)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = f.svc.GetSession("missing")
	assert.True(t, apperrors.IsNotFoundError(err))

	require.NoError(t, f.svc.DeleteSession(f.sessionID))
	_, err = f.svc.GetSession(f.sessionID)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestVideoPollerFailedTaskLeavesSiblingsRunning(t *testing.T) {
	client := newFakeVideoClient()
	client.statuses["good"] = []string{"started", "started", "done"}
	client.statuses["bad"] = []string{"error"}
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)
	poller := NewVideoPoller(svc, 2*time.Millisecond)

	good := poller.Start(context.Background(), "good", nil)
	bad := poller.Start(context.Background(), "bad", nil)

	<-bad.Done()
	assert.Equal(t, PollFailed, bad.State())

	<-good.Done()
	assert.Equal(t, PollSucceeded, good.State())
	assert.Equal(t, 3, client.GetCalls("good"))
}

func TestVideoPollerGivesUpAfterRepeatedErrors(t *testing.T) {
	client := newFakeVideoClient()
	svc := NewVideoService(client, NewSequentialExecutor(0), 500)
	poller := NewVideoPoller(svc, time.Millisecond)

	var updates []PollUpdate
	task := poller.Start(context.Background(), "unknown", func(u PollUpdate) { updates = append(updates, u) })
	<-task.Done()

	assert.Equal(t, PollFailed, task.State())
	require.Len(t, updates, 1)
	assert.Equal(t, models.VideoStatusError, updates[0].Job.Status)
}
