package dispatchtest

import (
	"context"
	"sync"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// RecordingTarget is a DeliveryTarget that records every delivery. Messages are
// identified by their coordinates (topic/partition@offset).
//
// When blocking, a delivery does not return until it is released with Release
// or ReleaseAll. Unless IgnoreCancel is set, a blocked delivery also returns
// when its context is cancelled.
//
// Timeline events: "deliver <coordinates> start" and "deliver <coordinates> end".
type RecordingTarget struct {
	timeline     *Timeline
	block        bool
	ignoreCancel bool

	lock        sync.Mutex
	results     map[string]error
	panics      map[string]any
	release     map[string]chan struct{}
	releasedAll bool
	started     []string
	finished    []string
	ctxErrs     map[string]error
	active      int
	maxActive   int
	calls       map[string]int
	startedCh   chan string
}

var _ dispatchmodels.DeliveryTarget = &RecordingTarget{}

func NewRecordingTarget(timeline *Timeline) *RecordingTarget {
	return &RecordingTarget{
		timeline:  timeline,
		results:   make(map[string]error),
		panics:    make(map[string]any),
		release:   make(map[string]chan struct{}),
		ctxErrs:   make(map[string]error),
		calls:     make(map[string]int),
		startedCh: make(chan string, 1000),
	}
}

// Block makes deliveries wait for Release
func (r *RecordingTarget) Block() *RecordingTarget {
	r.block = true
	return r
}

// IgnoreCancel makes blocked deliveries wait for Release even after their
// context is cancelled
func (r *RecordingTarget) IgnoreCancel() *RecordingTarget {
	r.ignoreCancel = true
	return r
}

// FailWith makes the delivery of the message at coordinates return err
func (r *RecordingTarget) FailWith(coordinates string, err error) *RecordingTarget {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.results[coordinates] = err
	return r
}

// PanicWith makes the delivery of the message at coordinates panic
func (r *RecordingTarget) PanicWith(coordinates string, v any) *RecordingTarget {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.panics[coordinates] = v
	return r
}

func (r *RecordingTarget) releaseChan(coordinates string) chan struct{} {
	ch, ok := r.release[coordinates]
	if !ok {
		ch = make(chan struct{})
		if r.releasedAll {
			close(ch)
		}
		r.release[coordinates] = ch
	}
	return ch
}

// Release lets the delivery of the message at coordinates return. It may be
// called before the delivery starts.
func (r *RecordingTarget) Release(coordinates string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ch := r.releaseChan(coordinates)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// ReleaseAll releases every current and future delivery
func (r *RecordingTarget) ReleaseAll() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.releasedAll = true
	for _, ch := range r.release {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func (r *RecordingTarget) Deliver(ctx context.Context, msg *dispatchmodels.Message) error {
	coordinates := msg.Coordinates()
	r.lock.Lock()
	r.started = append(r.started, coordinates)
	r.calls[coordinates]++
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	ch := r.releaseChan(coordinates)
	result := r.results[coordinates]
	panicWith, panics := r.panics[coordinates]
	r.timeline.Add("deliver %s start", coordinates)
	r.lock.Unlock()

	select {
	case r.startedCh <- coordinates:
	default:
	}

	defer func() {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.active--
		r.finished = append(r.finished, coordinates)
		r.ctxErrs[coordinates] = ctx.Err()
		r.timeline.Add("deliver %s end", coordinates)
	}()

	if r.block {
		if r.ignoreCancel {
			<-ch
		} else {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if panics {
		panic(panicWith)
	}
	return result
}

// StartedCh receives the coordinates of each delivery as it starts
func (r *RecordingTarget) StartedCh() <-chan string {
	return r.startedCh
}

func (r *RecordingTarget) Started() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.started...)
}

func (r *RecordingTarget) Finished() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.finished...)
}

// Calls is the number of times the message at coordinates was delivered
func (r *RecordingTarget) Calls(coordinates string) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.calls[coordinates]
}

// CtxErr is the delivery context's error when the delivery returned
func (r *RecordingTarget) CtxErr(coordinates string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.ctxErrs[coordinates]
}

func (r *RecordingTarget) Active() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.active
}

// MaxActive is the largest number of deliveries that were ever in progress at once
func (r *RecordingTarget) MaxActive() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.maxActive
}
