package playback

import (
	"context"
	"sync"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// FakeResource is an in-memory Resource for tests.
// It records every call and never advances on its own.
type FakeResource struct {
	mu sync.Mutex

	SourceURL string
	position  float64
	paused    bool
	ready     chan struct{}
	isReady   bool

	PlayCalls   int
	PauseCalls  int
	Seeks       []float64
	AttachCalls int
	CloneCalls  int

	// PlayErr is returned from Play when set
	PlayErr error
	// RecordFunc backs the clones handed out by Clone
	RecordFunc func(ctx context.Context, window model.PlaybackWindow) ([]byte, error)
	// OnPlay runs after each successful Play, outside the lock
	OnPlay func()

	tap     *FanoutTap
	tapUsed bool
	Clones  []*FakeClone
}

// NewFakeResource creates a ready resource at position
func NewFakeResource(position float64, playing bool) *FakeResource {
	r := &FakeResource{
		SourceURL: "fake://episode.mp3",
		position:  position,
		paused:    !playing,
		ready:     make(chan struct{}),
		isReady:   true,
		tap:       NewFanoutTap(),
	}
	close(r.ready)
	return r
}

// Unload marks the resource not ready, as after a reload
func (r *FakeResource) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isReady {
		r.isReady = false
		r.ready = make(chan struct{})
	}
}

// MarkReady completes a pending load
func (r *FakeResource) MarkReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isReady {
		r.isReady = true
		close(r.ready)
	}
}

// SetPosition moves the playhead without recording a seek, as playback would
func (r *FakeResource) SetPosition(position float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = position
}

// FanoutTap exposes the tap so tests can publish frames
func (r *FakeResource) FanoutTap() *FanoutTap {
	return r.tap
}

func (r *FakeResource) Source() string {
	return r.SourceURL
}

func (r *FakeResource) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *FakeResource) Seek(position float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Seeks = append(r.Seeks, position)
	if r.isReady {
		r.position = position
	}
	return nil
}

func (r *FakeResource) Play(ctx context.Context) error {
	r.mu.Lock()
	r.PlayCalls++
	if r.PlayErr != nil {
		err := r.PlayErr
		r.mu.Unlock()
		return err
	}
	r.paused = false
	onPlay := r.OnPlay
	r.mu.Unlock()

	if onPlay != nil {
		onPlay()
	}
	return nil
}

func (r *FakeResource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PauseCalls++
	r.paused = true
	return nil
}

func (r *FakeResource) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *FakeResource) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isReady
}

func (r *FakeResource) Ready() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *FakeResource) AttachTap() (Tap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AttachCalls++
	if r.tapUsed {
		return nil, ErrTapAlreadyAttached
	}
	r.tapUsed = true
	return r.tap, nil
}

func (r *FakeResource) Clone() (Clone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloneCalls++
	clone := &FakeClone{recordFunc: r.RecordFunc}
	r.Clones = append(r.Clones, clone)
	return clone, nil
}

// Counts returns play, pause and seek counts under the lock
func (r *FakeResource) Counts() (plays, pauses, seeks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.PlayCalls, r.PauseCalls, len(r.Seeks)
}

// FakeClone is the Clone handed out by FakeResource
type FakeClone struct {
	recordFunc func(ctx context.Context, window model.PlaybackWindow) ([]byte, error)
	Windows    []model.PlaybackWindow
	Closed     bool
}

func (c *FakeClone) Record(ctx context.Context, window model.PlaybackWindow) ([]byte, error) {
	c.Windows = append(c.Windows, window)
	if c.recordFunc != nil {
		return c.recordFunc(ctx, window)
	}
	return EncodeWAV(make([]byte, int(window.Duration*BytesPerSecond)&^1), SampleRate, Channels), nil
}

func (c *FakeClone) Close() error {
	c.Closed = true
	return nil
}
