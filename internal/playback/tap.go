package playback

import (
	"sync"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
)

const subscriberBuffer = 64

// FanoutTap distributes published frames to every current subscriber.
// Slow subscribers drop frames rather than stall playback.
type FanoutTap struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Frame
}

// NewFanoutTap creates an empty FanoutTap
func NewFanoutTap() *FanoutTap {
	return &FanoutTap{subs: make(map[int]chan Frame)}
}

// Subscribe implements Tap
func (t *FanoutTap) Subscribe() (<-chan Frame, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Frame, subscriberBuffer)
	t.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe
}

// Publish sends a frame to all subscribers without blocking
func (t *FanoutTap) Publish(frame Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ch := range t.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Subscribers returns the number of attached subscribers
func (t *FanoutTap) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// TapHolder owns the one-time tap capability of a resource.
// The first Acquire attaches; later calls reuse the same tap.
type TapHolder struct {
	mu       sync.Mutex
	resource Resource
	tap      Tap
	err      error
	attached bool
}

// NewTapHolder creates a holder for r; nothing is attached until Acquire
func NewTapHolder(r Resource) *TapHolder {
	return &TapHolder{resource: r}
}

// Acquire returns the persistent tap, attaching it on first use.
// A failed attachment is remembered and never retried.
func (h *TapHolder) Acquire() (Tap, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.attached {
		return h.tap, h.err
	}
	h.attached = true

	tap, err := h.resource.AttachTap()
	if err != nil {
		h.err = apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to attach audio tap")
		return nil, h.err
	}
	h.tap = tap
	return h.tap, nil
}

// Attached reports whether the capability has been consumed
func (h *TapHolder) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached
}
