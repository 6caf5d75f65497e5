package playback

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

func pcmSeconds(seconds float64) []byte {
	return make([]byte, int(seconds*BytesPerSecond))
}

func TestRollingBuffer_Window(t *testing.T) {
	buf := NewRollingBuffer(30)
	for i := 0; i < 20; i++ {
		buf.Append(Frame{Position: float64(i), PCM: pcmSeconds(1)})
	}

	window := model.PlaybackWindow{StartTime: 5, EndTime: 20, Duration: 15}
	require.True(t, buf.Covers(window))

	payload, ok := buf.Window(window)
	require.True(t, ok)
	assert.Equal(t, "RIFF", string(payload[0:4]))
	assert.Equal(t, "WAVE", string(payload[8:12]))
	dataLen := binary.LittleEndian.Uint32(payload[40:44])
	assert.Equal(t, uint32(15*BytesPerSecond), dataLen)
	assert.Len(t, payload, 44+15*BytesPerSecond)
}

func TestRollingBuffer_DropsOldestBeyondCapacity(t *testing.T) {
	buf := NewRollingBuffer(10)
	for i := 0; i < 30; i++ {
		buf.Append(Frame{Position: float64(i), PCM: pcmSeconds(1)})
	}

	assert.False(t, buf.Covers(model.PlaybackWindow{StartTime: 5, EndTime: 30, Duration: 25}))
	assert.True(t, buf.Covers(model.PlaybackWindow{StartTime: 20, EndTime: 30, Duration: 10}))
}

func TestRollingBuffer_SeekStartsNewRun(t *testing.T) {
	buf := NewRollingBuffer(60)
	for i := 0; i < 10; i++ {
		buf.Append(Frame{Position: float64(i), PCM: pcmSeconds(1)})
	}
	// jump forward
	buf.Append(Frame{Position: 100, PCM: pcmSeconds(1)})

	_, ok := buf.Window(model.PlaybackWindow{StartTime: 0, EndTime: 10, Duration: 10})
	assert.False(t, ok)
	_, ok = buf.Window(model.PlaybackWindow{StartTime: 100, EndTime: 101, Duration: 1})
	assert.True(t, ok)
}

func TestRollingBuffer_RunConsumesTap(t *testing.T) {
	tap := NewFanoutTap()
	buf := NewRollingBuffer(30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx, tap)
		close(done)
	}()

	require.Eventually(t, func() bool { return tap.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	tap.Publish(Frame{Position: 0, PCM: pcmSeconds(1)})
	tap.Publish(Frame{Position: 1, PCM: pcmSeconds(1)})

	window := model.PlaybackWindow{StartTime: 0, EndTime: 2, Duration: 2}
	require.Eventually(t, func() bool { return buf.Covers(window) }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, tap.Subscribers())
}
