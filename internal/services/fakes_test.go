// internal/services/fakes_test.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/video"
)

// fakeGenerator answers every request with reply/err and counts calls.
type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	ready   bool
	calls   int32
	prompts []string
	block   chan struct{} // when set, calls wait for it to close
}

func newFakeGenerator(reply string) *fakeGenerator {
	return &fakeGenerator{reply: reply, ready: true}
}

func (f *fakeGenerator) IsReady() bool { return f.ready }

func (f *fakeGenerator) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	block := f.block
	reply, err := f.reply, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: reply}, nil
}

func (f *fakeGenerator) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

// fakeProvider implements llm.Provider for LLMService tests.
type fakeProvider struct {
	calls int32
	reply string
}

func (p *fakeProvider) Initialize(map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                    { return "fake" }
func (p *fakeProvider) GetSupportedModels() []string       { return []string{"fake-1"} }
func (p *fakeProvider) CompleteText(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	atomic.AddInt32(&p.calls, 1)
	return &llm.CompletionResponse{Text: p.reply}, nil
}

// fakeVideoClient fails the 1-based lines listed in failLines.
type fakeVideoClient struct {
	mu        sync.Mutex
	failLines map[int]string
	requests  []video.TalkRequest
	statuses  map[string][]string // job id -> successive statuses
	getCalls  map[string]int
}

func newFakeVideoClient() *fakeVideoClient {
	return &fakeVideoClient{
		failLines: map[int]string{},
		statuses:  map[string][]string{},
		getCalls:  map[string]int{},
	}
}

func (c *fakeVideoClient) CreateTalk(_ context.Context, req video.TalkRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	if msg, ok := c.failLines[n]; ok {
		return "", &video.APIError{StatusCode: 500, Message: msg}
	}
	return fmt.Sprintf("tlk_%d", n), nil
}

func (c *fakeVideoClient) GetTalk(_ context.Context, id string) (*video.Talk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.statuses[id]
	if !ok {
		return nil, errors.New("unknown talk")
	}
	i := c.getCalls[id]
	c.getCalls[id] = i + 1
	if i >= len(seq) {
		i = len(seq) - 1
	}
	talk := &video.Talk{ID: id, Status: seq[i]}
	if seq[i] == "done" {
		talk.ResultURL = "https://cdn.example/" + id + ".mp4"
	}
	return talk, nil
}

func (c *fakeVideoClient) Requests() []video.TalkRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]video.TalkRequest(nil), c.requests...)
}

func (c *fakeVideoClient) GetCalls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCalls[id]
}

// recordingNotifier keeps every session event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifySession(_ string, event string, _ interface{}) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) Count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}
