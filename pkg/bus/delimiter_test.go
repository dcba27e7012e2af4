package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelimiterJoinsChunksWithinQuietPeriod(t *testing.T) {
	d := NewDelimiter(30 * time.Millisecond)

	d.Push([]byte{0x01, 0x03})
	time.Sleep(5 * time.Millisecond)
	d.Push([]byte{0x02, 0x00, 0x2A})
	time.Sleep(5 * time.Millisecond)
	d.Push([]byte{0x39, 0x9B})

	select {
	case frame := <-d.Frames():
		assert.Equal(t, []byte{0x01, 0x03, 0x02, 0x00, 0x2A, 0x39, 0x9B}, frame)
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestDelimiterSplitsOnSilence(t *testing.T) {
	d := NewDelimiter(20 * time.Millisecond)

	d.Push([]byte{0xAA})
	time.Sleep(60 * time.Millisecond)
	d.Push([]byte{0xBB})

	first := <-d.Frames()
	assert.Equal(t, []byte{0xAA}, first)

	select {
	case second := <-d.Frames():
		assert.Equal(t, []byte{0xBB}, second)
	case <-time.After(time.Second):
		t.Fatal("second frame not emitted")
	}
}

func TestDelimiterEmitsShortCandidates(t *testing.T) {
	// Too short to be a structurally plausible frame; emitted anyway, the
	// codec decides.
	d := NewDelimiter(10 * time.Millisecond)
	d.Push([]byte{0x01})

	select {
	case frame := <-d.Frames():
		assert.Equal(t, []byte{0x01}, frame)
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestDelimiterReset(t *testing.T) {
	d := NewDelimiter(20 * time.Millisecond)

	// A frame already emitted and bytes still accumulating both vanish.
	d.Push([]byte{0xDE, 0xAD})
	time.Sleep(60 * time.Millisecond)
	d.Push([]byte{0xBE})
	d.Reset()

	d.Push([]byte{0x01, 0x02})
	frame := <-d.Frames()
	require.Equal(t, []byte{0x01, 0x02}, frame)

	select {
	case stale := <-d.Frames():
		t.Fatalf("stale frame leaked: %x", stale)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDelimiterResetDiscardsRacingFlush(t *testing.T) {
	// Push so the quiet timer fires right around the reset; whichever
	// order they land in, nothing may surface after Reset returns.
	d := NewDelimiter(time.Millisecond)

	for i := 0; i < 50; i++ {
		d.Push([]byte{0x01, 0x03, 0x00})
		time.Sleep(time.Millisecond)
		d.Reset()

		select {
		case stale := <-d.Frames():
			t.Fatalf("stale frame emitted after reset: %x", stale)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDelimiterIgnoresEmptyPush(t *testing.T) {
	d := NewDelimiter(10 * time.Millisecond)
	d.Push(nil)

	select {
	case frame := <-d.Frames():
		t.Fatalf("unexpected frame: %x", frame)
	case <-time.After(40 * time.Millisecond):
	}
}
