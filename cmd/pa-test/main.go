// Command pa-test plays a test tone on the default PulseAudio sink until it
// receives SIGTERM or SIGINT.
//
// The exit status is 128 plus the signal number, or 1 if setup failed.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rk-labs/pulse"
	"github.com/rk-labs/pulse/internal/bootstrap"
	"github.com/rk-labs/pulse/internal/log"
	"github.com/rk-labs/pulse/proto"
	"github.com/rk-labs/pulse/tone"
)

var format = proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 1, Rate: 44100}

func main() {
	log.Init("warn")
	os.Exit(run(os.Stderr))
}

// run plays the tone and returns the exit status. Diagnostics, including
// the signal notice, go to stderr, one line per failure.
func run(stderr io.Writer, opts ...bootstrap.Option) int {
	pa, err := bootstrap.New(append([]bootstrap.Option{bootstrap.WithDiagnostics(stderr)}, opts...)...)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer pa.Close()

	stream, err := pa.Context().NewStream("playback", format)
	if err != nil {
		fmt.Fprintln(stderr, "pa_stream_new failed:", err)
		return 1
	}

	var synth tone.Synth
	// A lost connection fails the stream as well.
	stream.SetStateCallback(func(s *pulse.Stream) {
		if s.State() == pulse.StreamFailed {
			fmt.Fprintln(stderr, "pa-test: stream failed:", s.Err())
			pa.Loop().Quit(1)
		}
	})
	stream.SetWriteCallback(synth.StreamCallback())

	if err := stream.ConnectPlayback(); err != nil {
		fmt.Fprintln(stderr, "pa_stream_connect_playback failed:", err)
		return 1
	}

	code, err := pa.Run()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return code
}
