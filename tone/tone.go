// Package tone generates the test signal: a triangle wave whose period is
// itself swept by a slower triangle wave.
//
// All arithmetic is fixed point. Phase and wave parameters are 16 bit,
// intermediate products 32 bit, so the output is bit-exact on every platform.
package tone

import (
	"encoding/binary"
	"unsafe"

	"github.com/rk-labs/pulse"
	"github.com/rk-labs/pulse/internal/log"
)

const (
	// CarrierWavelength is the base period of the audible wave, in samples.
	CarrierWavelength = 200
	CarrierAmplitude  = 400

	ModulatorWavelength = 20000
	ModulatorAmplitude  = 400
)

// shift is the number of fraction bits of the slope.
const shift = 8

// Signed is the set of signed integer types.
type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// IAbs returns the absolute value of x without branching.
// Like the hardware instruction, IAbs of the minimum value is that value.
func IAbs[T Signed](x T) T {
	m := x >> (unsafe.Sizeof(x)*8 - 1)
	return (x + m) ^ m
}

// Triangle returns the value of a triangle wave with period lambda and peak
// amplitude amp at time t. The wave starts at +amp/2, falls to -amp/2 at
// lambda/2 and rises back. lambda must be positive.
func Triangle(t, lambda, amp int16) int32 {
	factor := (int32(amp) << shift) / int32(lambda)
	t %= lambda
	return (factor * (IAbs(int32(t)-int32(lambda/2)) - int32(lambda/4))) >> (shift - 1)
}

// Sample returns the output at phase t. The modulator shifts the carrier's
// period between roughly 4 and 1176 samples.
func Sample(t int16) int16 {
	lambda := int16(CarrierWavelength + Triangle(t, ModulatorWavelength, ModulatorAmplitude))
	return int16(Triangle(t, lambda, CarrierAmplitude))
}

// A Synth renders signed 16 bit little-endian mono samples.
// The zero value starts at phase 0.
type Synth struct {
	// Phase is the time of the next sample. It wraps around on overflow
	// and is never reset, so consecutive buffers join without a click.
	Phase int16
}

// Fill writes len(buf)/2 samples to buf and returns the number of bytes written.
func (s *Synth) Fill(buf []byte) int {
	n := len(buf) / 2
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(Sample(s.Phase)))
		s.Phase++
	}
	return 2 * n
}

// Writer is the part of a playback stream the synthesizer writes to.
type Writer interface {
	BeginWrite(n int) ([]byte, error)
	Write(data []byte, seek pulse.SeekMode) error
}

// OnWriteRequest answers a request for n bytes. The buffer the writer hands
// out may be smaller than n; it is filled completely. If no buffer is
// available the request is skipped and the phase does not advance.
func (s *Synth) OnWriteRequest(w Writer, n int) {
	buf, err := w.BeginWrite(n)
	if err != nil {
		return
	}
	n = s.Fill(buf)
	if err := w.Write(buf[:n], pulse.SeekRelative); err != nil {
		log.Debug("tone: write failed", "err", err)
	}
}

// StreamCallback returns a write callback for pulse.Stream.SetWriteCallback.
func (s *Synth) StreamCallback() func(*pulse.Stream, int) {
	return func(st *pulse.Stream, n int) { s.OnWriteRequest(st, n) }
}
