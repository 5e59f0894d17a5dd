package dispatchtest

import (
	"context"
	"sync"
	"time"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// Step is one scripted Poll result
type Step struct {
	Batch dispatchmodels.Batch
	Err   error
}

func Batch(msgs ...*dispatchmodels.Message) Step {
	return Step{Batch: msgs}
}

func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedLog is a LogClient that returns scripted steps from Poll, one per
// call. Once the script is used up, Poll waits out its timeout and returns an
// empty batch.
//
// Timeline events: "subscribe", "poll N start", "poll N returned K",
// "poll N failed", "acknowledge K", "unsubscribe". Polls are numbered from 1.
type ScriptedLog struct {
	timeline     *Timeline
	subscribeErr error

	lock           sync.Mutex
	steps          []Step
	topics         []string
	subscribed     bool
	unsubscribed   bool
	polls          int
	pollStarts     []time.Time
	pollFailures   []time.Time
	outstanding    int
	maxOutstanding int
	errorHandler   func(error)
	acknowledged   []string
}

var (
	_ dispatchmodels.LogClient         = &ScriptedLog{}
	_ dispatchmodels.BatchAcknowledger = &ScriptedLog{}
)

func NewScriptedLog(timeline *Timeline, steps ...Step) *ScriptedLog {
	return &ScriptedLog{
		timeline: timeline,
		steps:    steps,
	}
}

// FailSubscribe makes Subscribe return err
func (s *ScriptedLog) FailSubscribe(err error) *ScriptedLog {
	s.subscribeErr = err
	return s
}

// Append adds steps to the end of the script
func (s *ScriptedLog) Append(steps ...Step) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.steps = append(s.steps, steps...)
}

func (s *ScriptedLog) Subscribe(_ context.Context, topics []string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.timeline.Add("subscribe")
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	if s.subscribed {
		return dispatchmodels.ErrAlreadySubscribed.Errorf("scripted log already subscribed to %v", s.topics)
	}
	s.subscribed = true
	s.topics = append([]string(nil), topics...)
	return nil
}

func (s *ScriptedLog) Poll(ctx context.Context, timeout time.Duration) (dispatchmodels.Batch, error) {
	s.lock.Lock()
	if !s.subscribed || s.unsubscribed {
		s.lock.Unlock()
		return nil, dispatchmodels.ErrNotSubscribed.Errorf("scripted log poll without subscription")
	}
	s.polls++
	n := s.polls
	s.outstanding++
	if s.outstanding > s.maxOutstanding {
		s.maxOutstanding = s.outstanding
	}
	s.pollStarts = append(s.pollStarts, time.Now())
	s.timeline.Add("poll %d start", n)
	var step Step
	scripted := len(s.steps) > 0
	if scripted {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		s.outstanding--
	}()

	if !scripted {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			s.timeline.Add("poll %d cancelled", n)
			return nil, ctx.Err()
		}
		s.timeline.Add("poll %d returned 0", n)
		return dispatchmodels.Batch{}, nil
	}
	if step.Err != nil {
		s.lock.Lock()
		s.pollFailures = append(s.pollFailures, time.Now())
		s.lock.Unlock()
		s.timeline.Add("poll %d failed", n)
		return nil, step.Err
	}
	s.timeline.Add("poll %d returned %d", n, len(step.Batch))
	return step.Batch, nil
}

func (s *ScriptedLog) Unsubscribe(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.timeline.Add("unsubscribe")
	if !s.subscribed {
		return dispatchmodels.ErrNotSubscribed.Errorf("scripted log unsubscribe without subscription")
	}
	s.unsubscribed = true
	return nil
}

func (s *ScriptedLog) Acknowledge(_ context.Context, batch dispatchmodels.Batch) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.timeline.Add("acknowledge %d", len(batch))
	for _, msg := range batch {
		s.acknowledged = append(s.acknowledged, msg.Coordinates())
	}
	return nil
}

// Acknowledged is the coordinates of every acknowledged message
func (s *ScriptedLog) Acknowledged() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.acknowledged...)
}

func (s *ScriptedLog) SetErrorHandler(handler func(error)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.errorHandler = handler
}

// EmitClientError reports err the way a client reports errors it recovered from
func (s *ScriptedLog) EmitClientError(err error) {
	s.lock.Lock()
	handler := s.errorHandler
	s.lock.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (s *ScriptedLog) Topics() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.topics...)
}

func (s *ScriptedLog) Subscribed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.subscribed
}

func (s *ScriptedLog) Unsubscribed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.unsubscribed
}

// Polls is the number of Poll calls so far
func (s *ScriptedLog) Polls() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.polls
}

// Remaining is the number of scripted steps not yet consumed
func (s *ScriptedLog) Remaining() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.steps)
}

func (s *ScriptedLog) PollStarts() []time.Time {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]time.Time(nil), s.pollStarts...)
}

// PollFailures is when each failing poll returned its error
func (s *ScriptedLog) PollFailures() []time.Time {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]time.Time(nil), s.pollFailures...)
}

// MaxOutstanding is the largest number of Poll calls that were ever in progress at once
func (s *ScriptedLog) MaxOutstanding() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.maxOutstanding
}

func (s *ScriptedLog) HasErrorHandler() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.errorHandler != nil
}
