// internal/models/discussion.go
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Emotion drives the avatar's expression for a dialogue line.
type Emotion string

const (
	EmotionHappy      Emotion = "happy"
	EmotionSad        Emotion = "sad"
	EmotionExcited    Emotion = "excited"
	EmotionThoughtful Emotion = "thoughtful"
	EmotionSurprised  Emotion = "surprised"
	EmotionConcerned  Emotion = "concerned"
	EmotionNeutral    Emotion = "neutral"
)

// Emotions lists every accepted emotion.
var Emotions = []Emotion{
	EmotionHappy, EmotionSad, EmotionExcited, EmotionThoughtful,
	EmotionSurprised, EmotionConcerned, EmotionNeutral,
}

// ParseEmotion normalizes s and reports whether it is a known emotion.
func ParseEmotion(s string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	return e, slices.Contains(Emotions, e)
}

// Persona is one of the fixed discussion characters.
type Persona struct {
	Name           string  `json:"name"`
	Traits         string  `json:"traits"`
	DefaultEmotion Emotion `json:"default_emotion"`
	AvatarURL      string  `json:"avatar_url"`
	VoiceID        string  `json:"voice_id"`
}

// DefaultPersonas is the built-in panel.
var DefaultPersonas = []Persona{
	{
		Name:           "Professor Wise",
		Traits:         "Knowledgeable, analytical, loves metaphors and deep insights",
		DefaultEmotion: EmotionThoughtful,
		AvatarURL:      "https://cdn.d-id.com/avatars/uk_professor_1.png",
		VoiceID:        "Paul",
	},
	{
		Name:           "Curious Charlie",
		Traits:         "Inquisitive, skeptical, asks probing questions and challenges assumptions",
		DefaultEmotion: EmotionExcited,
		AvatarURL:      "https://cdn.d-id.com/avatars/uk_teen_1.png",
		VoiceID:        "Drew",
	},
	{
		Name:           "Emotional Emma",
		Traits:         "Empathetic, focuses on character relationships and emotional depth",
		DefaultEmotion: EmotionHappy,
		AvatarURL:      "https://cdn.d-id.com/avatars/uk_woman_1.png",
		VoiceID:        "Rachel",
	},
}

// FindPersona looks a persona up by name, ignoring case and surrounding space.
func FindPersona(personas []Persona, name string) (Persona, bool) {
	name = strings.TrimSpace(name)
	for _, p := range personas {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Persona{}, false
}

// VideoJobID is either a vendor job id or a failure sentinel.
type VideoJobID string

// SentinelPrefix marks a failed video job slot.
const SentinelPrefix = "error_"

// NewSentinel builds the sentinel for 1-based line n; tag keeps it unique.
func NewSentinel(line int, tag string) VideoJobID {
	return VideoJobID(fmt.Sprintf("%s%d_%s", SentinelPrefix, line, tag))
}

// IsSentinel reports whether id stands for a failed job.
func (id VideoJobID) IsSentinel() bool {
	return id == "" || strings.HasPrefix(string(id), SentinelPrefix)
}

// DialogueLine is one generated utterance.
type DialogueLine struct {
	Character  string     `json:"character"`
	Text       string     `json:"text"`
	Emotion    Emotion    `json:"emotion"`
	VideoJobID VideoJobID `json:"video_job_id,omitempty"`
}

// Dialogue is the validated output of the dialogue stage.
type Dialogue struct {
	Lines    []DialogueLine `json:"lines"`
	Degraded bool           `json:"degraded"`
	Warnings []string       `json:"warnings,omitempty"`
}

// VideoBatch is the outcome of the video stage.
type VideoBatch struct {
	JobIDs       []VideoJobID `json:"video_job_ids"`
	Warnings     []string     `json:"warnings"`
	SuccessCount int          `json:"success_count"`
	Message      string       `json:"message"`
}

// Complete reports whether every line got a real job id.
func (b *VideoBatch) Complete() bool {
	return len(b.JobIDs) > 0 && b.SuccessCount == len(b.JobIDs)
}

// WorkflowState is a discussion session's position in the workflow.
type WorkflowState string

const (
	StateIdle               WorkflowState = "idle"
	StateSummarizing        WorkflowState = "summarizing"
	StateSummarized         WorkflowState = "summarized"
	StateGeneratingDialogue WorkflowState = "generating_dialogue"
	StateDialogueReady      WorkflowState = "dialogue_ready"
	StateGeneratingVideo    WorkflowState = "generating_video"
	StateVideoPartial       WorkflowState = "video_partial"
	StateVideoComplete      WorkflowState = "video_complete"
	StateErrored            WorkflowState = "errored"
)

// InProgress reports whether a stage call is running.
func (s WorkflowState) InProgress() bool {
	return s == StateSummarizing || s == StateGeneratingDialogue || s == StateGeneratingVideo
}

// StageError records the last failed stage of a session.
type StageError struct {
	Stage   string    `json:"stage"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// WorkflowResult is what a client sees of a discussion session.
type WorkflowResult struct {
	SessionID   string         `json:"session_id,omitempty"`
	State       WorkflowState  `json:"state"`
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	Summary     string         `json:"summary"`
	Dialogue    []DialogueLine `json:"dialogue"`
	VideoJobIDs []VideoJobID   `json:"video_job_ids,omitempty"`
	Videos      []VideoJob     `json:"videos,omitempty"`
	Warnings    []string       `json:"warnings"`
	Message     string         `json:"message,omitempty"`
	Degraded    bool           `json:"degraded"`
	LastError   *StageError    `json:"last_error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// VideoStatus is the vendor's view of a job.
type VideoStatus string

const (
	VideoStatusCreated    VideoStatus = "created"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusDone       VideoStatus = "done"
	VideoStatusError      VideoStatus = "error"
)

// Terminal reports whether polling can stop.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusDone || s == VideoStatusError
}

// VideoJob is a status snapshot of one talking-avatar job.
type VideoJob struct {
	ID          VideoJobID  `json:"id"`
	Status      VideoStatus `json:"status"`
	ResultURL   string      `json:"result_url,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
