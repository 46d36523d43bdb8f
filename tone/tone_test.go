package tone

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk-labs/pulse"
)

func TestIAbs(t *testing.T) {
	assert.Equal(t, int16(5), IAbs(int16(-5)))
	assert.Equal(t, int16(5), IAbs(int16(5)))
	assert.Equal(t, int16(0), IAbs(int16(0)))
	assert.Equal(t, int16(math.MaxInt16), IAbs(int16(-math.MaxInt16)))
	assert.Equal(t, int16(math.MinInt16), IAbs(int16(math.MinInt16)))
	assert.Equal(t, int32(100000), IAbs(int32(-100000)))
	assert.Equal(t, int64(1)<<40, IAbs(-(int64(1) << 40)))
	assert.Equal(t, 7, IAbs(-7))
}

func TestTriangleShape(t *testing.T) {
	assert.Equal(t, int32(200), Triangle(0, 200, 400))
	assert.Equal(t, int32(0), Triangle(50, 200, 400))
	assert.Equal(t, int32(-200), Triangle(100, 200, 400))
	assert.Equal(t, int32(0), Triangle(150, 200, 400))
	assert.Equal(t, int32(196), Triangle(199, 200, 400))
}

func TestTrianglePeriodic(t *testing.T) {
	for _, lambda := range []int16{4, 200, 395, 1176} {
		for tm := int16(0); tm < 2000; tm++ {
			require.Equal(t, Triangle(tm, lambda, 400), Triangle(tm+lambda, lambda, 400), "t=%d lambda=%d", tm, lambda)
		}
	}
}

func TestTriangleZeroMean(t *testing.T) {
	var sum int32
	for tm := int16(0); tm < 200; tm++ {
		sum += Triangle(tm, 200, 400)
	}
	assert.Equal(t, int32(0), sum)
}

func TestSampleRange(t *testing.T) {
	tm := int16(math.MinInt16)
	for {
		lambda := CarrierWavelength + Triangle(tm, ModulatorWavelength, ModulatorAmplitude)
		require.GreaterOrEqual(t, lambda, int32(4), "t=%d", tm)
		require.LessOrEqual(t, lambda, int32(1176), "t=%d", tm)

		// Past the wrap the remainder goes negative and the wave is no
		// longer bounded by its amplitude.
		if tm >= 0 {
			require.LessOrEqual(t, IAbs(Sample(tm)), int16(CarrierAmplitude), "t=%d", tm)
		}
		if tm == math.MaxInt16 {
			break
		}
		tm++
	}
}

func TestFillFirstSamples(t *testing.T) {
	var s Synth
	buf := make([]byte, 4)
	assert.Equal(t, 4, s.Fill(buf))
	assert.Equal(t, []byte{0xC8, 0x00, 0xC6, 0x00}, buf)
	assert.Equal(t, int16(2), s.Phase)
}

func TestFillOddLength(t *testing.T) {
	var s Synth
	buf := []byte{0, 0, 0, 0xAA}
	assert.Equal(t, 2, s.Fill(buf))
	assert.Equal(t, byte(0xAA), buf[3])
	assert.Equal(t, int16(1), s.Phase)
}

func TestFillContinuous(t *testing.T) {
	var whole, split Synth
	a := make([]byte, 4096)
	whole.Fill(a)

	b := make([]byte, 4096)
	split.Fill(b[:1000])
	split.Fill(b[1000:3002])
	split.Fill(b[3002:])
	assert.Equal(t, a, b)
	assert.Equal(t, whole.Phase, split.Phase)
}

func TestFillWraps(t *testing.T) {
	s := Synth{Phase: math.MaxInt16}
	buf := make([]byte, 4)
	s.Fill(buf)
	assert.Equal(t, uint16(Sample(math.MaxInt16)), binary.LittleEndian.Uint16(buf))
	assert.Equal(t, uint16(Sample(math.MinInt16)), binary.LittleEndian.Uint16(buf[2:]))
	assert.Equal(t, int16(math.MinInt16+1), s.Phase)
}

func TestFillDoesNotAllocate(t *testing.T) {
	var s Synth
	buf := make([]byte, 8192)
	allocs := testing.AllocsPerRun(100, func() { s.Fill(buf) })
	assert.Zero(t, allocs)
}

type fakeWriter struct {
	buf      []byte
	beginErr error
	begun    []int
	written  [][]byte
}

func (w *fakeWriter) BeginWrite(n int) ([]byte, error) {
	w.begun = append(w.begun, n)
	if w.beginErr != nil {
		return nil, w.beginErr
	}
	if n > len(w.buf) {
		n = len(w.buf)
	}
	return w.buf[:n], nil
}

func (w *fakeWriter) Write(data []byte, seek pulse.SeekMode) error {
	if seek != pulse.SeekRelative {
		return errors.New("unexpected seek mode")
	}
	w.written = append(w.written, append([]byte(nil), data...))
	return nil
}

func TestOnWriteRequest(t *testing.T) {
	var s Synth
	w := &fakeWriter{buf: make([]byte, 64)}
	s.OnWriteRequest(w, 4)
	require.Len(t, w.written, 1)
	assert.Equal(t, []byte{0xC8, 0x00, 0xC6, 0x00}, w.written[0])

	// The writer lowers the size; the phase follows what was written.
	s.OnWriteRequest(w, 1000)
	require.Len(t, w.written, 2)
	assert.Len(t, w.written[1], 64)
	assert.Equal(t, int16(34), s.Phase)
}

func TestOnWriteRequestBeginFails(t *testing.T) {
	s := Synth{Phase: 7}
	w := &fakeWriter{beginErr: pulse.ErrBadState}
	s.OnWriteRequest(w, 4)
	assert.Equal(t, []int{4}, w.begun)
	assert.Empty(t, w.written)
	assert.Equal(t, int16(7), s.Phase)
}

func BenchmarkFill(b *testing.B) {
	var s Synth
	buf := make([]byte, 4096)
	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Fill(buf)
	}
}
