// internal/services/discussion_service.go
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Session event names delivered to a SessionNotifier.
const (
	EventSessionState = "session_state"
	EventVideoStatus  = "video_status"
)

const (
	stageSummary  = "summary"
	stageDialogue = "dialogue"
	stageVideo    = "video"
)

// SessionNotifier receives session events, typically to push them to
// websocket subscribers.
type SessionNotifier interface {
	NotifySession(sessionID, event string, payload interface{})
}

// DiscussionOptions sizes the session cache.
type DiscussionOptions struct {
	MaxSessions int
	SessionTTL  time.Duration
}

// DiscussionService sequences the summary, dialogue and video stages for a
// session. Each stage runs only on request, one at a time per session, and
// every completed stage's output is kept until a later stage replaces it.
type DiscussionService struct {
	summaries *SummaryService
	dialogues *DialogueService
	videos    *VideoService
	poller    *VideoPoller

	notifierMu sync.RWMutex
	notifier   SessionNotifier

	sessions *expirable.LRU[string, *discussionSession]
	baseCtx  context.Context
	stop     context.CancelFunc
	metrics  *utils.APIMetrics
}

type discussionSession struct {
	mu sync.Mutex

	id       string
	title    string
	author   string
	personas []models.Persona

	state      models.WorkflowState
	settled    models.WorkflowState // last completed state
	running    bool
	generation uint64

	summary          string
	dialogue         []models.DialogueLine
	degraded         bool
	dialogueWarnings []string
	jobIDs           []models.VideoJobID
	videos           map[models.VideoJobID]models.VideoJob
	videoWarnings    []string
	message          string
	lastErr          *models.StageError
	tasks            []*PollTask
	updatedAt        time.Time
}

func NewDiscussionService(summaries *SummaryService, dialogues *DialogueService, videos *VideoService, poller *VideoPoller, opts DiscussionOptions) *DiscussionService {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 512
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &DiscussionService{
		summaries: summaries,
		dialogues: dialogues,
		videos:    videos,
		poller:    poller,
		baseCtx:   ctx,
		stop:      cancel,
		metrics:   utils.NewAPIMetrics(),
	}
	s.sessions = expirable.NewLRU[string, *discussionSession](opts.MaxSessions, func(_ string, sess *discussionSession) {
		sess.mu.Lock()
		sess.stopPollingLocked()
		sess.mu.Unlock()
	}, opts.SessionTTL)
	return s
}

// SetNotifier installs the receiver of session events.
func (s *DiscussionService) SetNotifier(n SessionNotifier) {
	s.notifierMu.Lock()
	s.notifier = n
	s.notifierMu.Unlock()
}

func (s *DiscussionService) notify(sessionID, event string, payload interface{}) {
	s.notifierMu.RLock()
	n := s.notifier
	s.notifierMu.RUnlock()
	if n != nil {
		n.NotifySession(sessionID, event, payload)
	}
}

// Close cancels every polling task.
func (s *DiscussionService) Close() {
	s.stop()
	s.sessions.Purge()
}

// Personas returns the built-in panel.
func (s *DiscussionService) Personas() []models.Persona {
	out := make([]models.Persona, len(models.DefaultPersonas))
	copy(out, models.DefaultPersonas)
	return out
}

// CreateSession starts an idle session for a book. personas may be empty.
func (s *DiscussionService) CreateSession(title, author string, personas []models.Persona) *models.WorkflowResult {
	if len(personas) == 0 {
		personas = s.Personas()
	}
	sess := &discussionSession{
		id:        uuid.NewString(),
		title:     title,
		author:    author,
		personas:  personas,
		state:     models.StateIdle,
		settled:   models.StateIdle,
		videos:    make(map[models.VideoJobID]models.VideoJob),
		updatedAt: time.Now().UTC(),
	}
	s.sessions.Add(sess.id, sess)
	s.metrics.RecordSessionCreated()

	utils.GetLogger().Info("discussion session created", map[string]interface{}{
		"session_id": sess.id,
		"title":      title,
	})
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked()
}

// GetSession returns the session snapshot.
func (s *DiscussionService) GetSession(id string) (*models.WorkflowResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

// DeleteSession stops polling and forgets the session.
func (s *DiscussionService) DeleteSession(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.generation++
	sess.stopPollingLocked()
	sess.mu.Unlock()
	s.sessions.Remove(id)
	return nil
}

func (s *DiscussionService) session(id string) (*discussionSession, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundError("Discussion session not found", nil)
	}
	return sess, nil
}

// begin marks a stage as running. check runs under the session lock and may
// reject the call before anything changes.
func (s *DiscussionService) begin(sess *discussionSession, running models.WorkflowState, check func() error) (uint64, error) {
	sess.mu.Lock()
	if sess.running {
		sess.mu.Unlock()
		return 0, apperrors.NewConflictError("A discussion stage is already running for this session", nil)
	}
	if check != nil {
		if err := check(); err != nil {
			sess.mu.Unlock()
			return 0, err
		}
	}
	sess.running = true
	sess.state = running
	sess.lastErr = nil
	sess.updatedAt = time.Now().UTC()
	gen := sess.generation
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	// refresh the TTL
	s.sessions.Add(sess.id, sess)
	s.notify(sess.id, EventSessionState, snap)
	return gen, nil
}

// finish applies a stage result unless the session was reset meanwhile.
func (s *DiscussionService) finish(sess *discussionSession, gen uint64, apply func()) (*models.WorkflowResult, error) {
	sess.mu.Lock()
	if sess.generation != gen {
		sess.mu.Unlock()
		return nil, apperrors.NewConflictError("Discussion was reset while the stage was running", nil)
	}
	sess.running = false
	apply()
	sess.updatedAt = time.Now().UTC()
	var errored *models.WorkflowResult
	if sess.state == models.StateErrored {
		errored = sess.snapshotLocked()
		sess.state = sess.settled
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	if errored != nil {
		s.notify(sess.id, EventSessionState, errored)
	}
	s.notify(sess.id, EventSessionState, snap)
	return snap, nil
}

// failLocked records a stage error and moves the session to errored; finish
// then settles it back on its last completed state.
func (s *DiscussionService) failLocked(sess *discussionSession, stage string, err error) {
	sess.state = models.StateErrored
	code := "PROCESSING_ERROR"
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}
	sess.lastErr = &models.StageError{Stage: stage, Code: code, Message: message, At: time.Now().UTC()}

	utils.GetLogger().Warn("discussion stage failed", map[string]interface{}{
		"session_id": sess.id,
		"stage":      stage,
		"error":      err.Error(),
	})
}

// RunSummary runs the summary stage. Non-empty title or author replace the
// session's values. A new summary clears the dialogue and videos.
func (s *DiscussionService) RunSummary(ctx context.Context, id, title, author string) (*models.WorkflowResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	gen, err := s.begin(sess, models.StateSummarizing, func() error {
		if title != "" {
			sess.title = title
		}
		if author != "" {
			sess.author = author
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	bookTitle, bookAuthor := sess.title, sess.author
	sess.mu.Unlock()

	summary, stageErr := s.summaries.Summarize(ctx, bookTitle, bookAuthor)
	snap, err := s.finish(sess, gen, func() {
		if stageErr != nil {
			s.failLocked(sess, stageSummary, stageErr)
			return
		}
		sess.stopPollingLocked()
		sess.summary = summary
		sess.dialogue = nil
		sess.degraded = false
		sess.dialogueWarnings = nil
		sess.clearVideosLocked()
		sess.message = ""
		sess.state = models.StateSummarized
		sess.settled = models.StateSummarized
	})
	if err != nil {
		return nil, err
	}
	return snap, stageErr
}

// RunDialogue runs the dialogue stage on the session's summary. A new
// dialogue clears the videos.
func (s *DiscussionService) RunDialogue(ctx context.Context, id string) (*models.WorkflowResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	gen, err := s.begin(sess, models.StateGeneratingDialogue, func() error {
		if sess.summary == "" {
			return apperrors.NewValidationError("Generate a summary before the dialogue", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	summary := sess.summary
	personas := sess.personas
	sess.mu.Unlock()

	dialogue, stageErr := s.dialogues.Generate(ctx, summary, personas)
	snap, err := s.finish(sess, gen, func() {
		if stageErr != nil {
			s.failLocked(sess, stageDialogue, stageErr)
			return
		}
		sess.stopPollingLocked()
		sess.dialogue = dialogue.Lines
		sess.degraded = dialogue.Degraded
		sess.dialogueWarnings = dialogue.Warnings
		sess.clearVideosLocked()
		sess.message = ""
		sess.state = models.StateDialogueReady
		sess.settled = models.StateDialogueReady
	})
	if err != nil {
		return nil, err
	}
	return snap, stageErr
}

// RunVideos runs the video stage on the session's dialogue and starts a poll
// task for every created job. When no video was created the session stays at
// dialogue_ready with the sentinels and warnings attached.
func (s *DiscussionService) RunVideos(ctx context.Context, id string) (*models.WorkflowResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	gen, err := s.begin(sess, models.StateGeneratingVideo, func() error {
		if len(sess.dialogue) == 0 {
			return apperrors.NewValidationError("Generate a dialogue before the videos", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	lines := make([]models.DialogueLine, len(sess.dialogue))
	copy(lines, sess.dialogue)
	sess.mu.Unlock()

	batch, stageErr := s.videos.CreateVideos(ctx, lines)
	snap, err := s.finish(sess, gen, func() {
		if batch == nil {
			s.failLocked(sess, stageVideo, stageErr)
			return
		}
		sess.stopPollingLocked()
		sess.clearVideosLocked()
		sess.jobIDs = batch.JobIDs
		sess.videoWarnings = batch.Warnings
		sess.message = batch.Message
		for i := range sess.dialogue {
			if i < len(batch.JobIDs) {
				sess.dialogue[i].VideoJobID = batch.JobIDs[i]
			}
		}
		for i, jobID := range batch.JobIDs {
			if jobID.IsSentinel() {
				sess.videos[jobID] = models.VideoJob{
					ID:     jobID,
					Status: models.VideoStatusError,
					Error:  warningFor(batch.Warnings, i+1),
				}
				continue
			}
			sess.videos[jobID] = models.VideoJob{ID: jobID, Status: models.VideoStatusCreated}
		}

		if stageErr != nil {
			s.failLocked(sess, stageVideo, stageErr)
			return
		}

		if batch.Complete() {
			sess.state = models.StateVideoComplete
		} else {
			sess.state = models.StateVideoPartial
		}
		sess.settled = sess.state
		s.startPollingLocked(sess, gen)
	})
	if err != nil {
		return nil, err
	}
	return snap, stageErr
}

func warningFor(warnings []string, line int) string {
	prefix := "Line " + strconv.Itoa(line) + ": "
	for _, w := range warnings {
		if reason, ok := strings.CutPrefix(w, prefix); ok {
			return reason
		}
	}
	return "video was not created"
}

func (s *DiscussionService) startPollingLocked(sess *discussionSession, gen uint64) {
	for _, jobID := range sess.jobIDs {
		if jobID.IsSentinel() {
			continue
		}
		task := s.poller.Start(s.baseCtx, jobID, func(u PollUpdate) {
			s.onPollUpdate(sess, gen, u)
		})
		sess.tasks = append(sess.tasks, task)
	}
}

func (s *DiscussionService) onPollUpdate(sess *discussionSession, gen uint64, u PollUpdate) {
	sess.mu.Lock()
	if sess.generation != gen {
		sess.mu.Unlock()
		return
	}
	sess.videos[u.JobID] = u.Job
	sess.updatedAt = time.Now().UTC()
	id := sess.id
	sess.mu.Unlock()

	s.notify(id, EventVideoStatus, u)
}

// Stop cancels the session's poll tasks and clears the in-progress marker for
// display. A vendor call already in flight still completes and is applied.
func (s *DiscussionService) Stop(id string) (*models.WorkflowResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	sess.stopPollingLocked()
	if sess.state.InProgress() {
		sess.state = sess.settled
	}
	sess.message = "Stopped"
	sess.updatedAt = time.Now().UTC()
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.notify(id, EventSessionState, snap)
	return snap, nil
}

// Reset returns the session to idle. Results of stage calls still in flight
// are discarded when they complete.
func (s *DiscussionService) Reset(id string) (*models.WorkflowResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	sess.generation++
	sess.stopPollingLocked()
	sess.running = false
	sess.summary = ""
	sess.dialogue = nil
	sess.degraded = false
	sess.dialogueWarnings = nil
	sess.clearVideosLocked()
	sess.message = ""
	sess.lastErr = nil
	sess.state = models.StateIdle
	sess.settled = models.StateIdle
	sess.updatedAt = time.Now().UTC()
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.notify(id, EventSessionState, snap)
	return snap, nil
}

// PollTasks returns the session's running poll tasks.
func (s *DiscussionService) PollTasks(id string) ([]*PollTask, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]*PollTask, len(sess.tasks))
	copy(out, sess.tasks)
	return out, nil
}

func (sess *discussionSession) stopPollingLocked() {
	for _, t := range sess.tasks {
		t.Cancel()
	}
	sess.tasks = nil
}

func (sess *discussionSession) clearVideosLocked() {
	sess.jobIDs = nil
	sess.videoWarnings = nil
	sess.videos = make(map[models.VideoJobID]models.VideoJob)
	for i := range sess.dialogue {
		sess.dialogue[i].VideoJobID = ""
	}
}

func (sess *discussionSession) snapshotLocked() *models.WorkflowResult {
	res := &models.WorkflowResult{
		SessionID: sess.id,
		State:     sess.state,
		Title:     sess.title,
		Author:    sess.author,
		Summary:   sess.summary,
		Dialogue:  make([]models.DialogueLine, len(sess.dialogue)),
		Warnings:  make([]string, 0, len(sess.dialogueWarnings)+len(sess.videoWarnings)),
		Message:   sess.message,
		Degraded:  sess.degraded,
		UpdatedAt: sess.updatedAt,
	}
	copy(res.Dialogue, sess.dialogue)
	res.Warnings = append(res.Warnings, sess.dialogueWarnings...)
	res.Warnings = append(res.Warnings, sess.videoWarnings...)

	if len(sess.jobIDs) > 0 {
		res.VideoJobIDs = make([]models.VideoJobID, len(sess.jobIDs))
		copy(res.VideoJobIDs, sess.jobIDs)
		res.Videos = make([]models.VideoJob, 0, len(sess.jobIDs))
		for _, jobID := range sess.jobIDs {
			res.Videos = append(res.Videos, sess.videos[jobID])
		}
	}
	if sess.lastErr != nil {
		e := *sess.lastErr
		res.LastError = &e
	}
	return res
}
