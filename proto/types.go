package proto

// Undefined is used by the server for "no index" and "server default" values.
const Undefined = 0xFFFFFFFF

const (
	FormatUint8     = 0
	FormatInt16LE   = 3
	FormatInt16BE   = 4
	FormatFloat32LE = 5
	FormatFloat32BE = 6
	FormatInt32LE   = 7
	FormatInt32BE   = 8
)

const (
	ChannelMono  = 0
	ChannelLeft  = 1
	ChannelRight = 2
)

const (
	EncodingPCM = 1
)

type SampleSpec struct {
	Format   byte
	Channels byte
	Rate     uint32
}

// BytesPerSample returns the size of a single sample of one channel,
// or 0 if the format is not known.
func (s SampleSpec) BytesPerSample() int {
	switch s.Format {
	case FormatUint8:
		return 1
	case FormatInt16LE, FormatInt16BE:
		return 2
	case FormatFloat32LE, FormatFloat32BE, FormatInt32LE, FormatInt32BE:
		return 4
	}
	return 0
}

// FrameSize returns the size of one sample for every channel.
func (s SampleSpec) FrameSize() int {
	return s.BytesPerSample() * int(s.Channels)
}

// Valid reports whether the server would accept the sample spec.
func (s SampleSpec) Valid() bool {
	return s.BytesPerSample() != 0 && s.Channels > 0 && s.Channels <= 32 && s.Rate > 0 && s.Rate <= 384000
}

type Microseconds uint64

type ChannelMap []byte

type ChannelVolumes []uint32

// VolumeNorm is the volume of a channel played back unchanged.
const VolumeNorm = 0x10000

type FormatInfo struct {
	Encoding   byte
	Properties PropList
}

// A PropList holds string keys with raw values.
// String values are stored with a terminating zero byte.
type PropList map[string]PropListEntry

type PropListEntry []byte

// PropListString converts a string to a property list value.
func PropListString(s string) PropListEntry {
	return append(PropListEntry(s), 0)
}

// String returns the value with the terminating zero byte removed.
func (e PropListEntry) String() string {
	if len(e) > 0 && e[len(e)-1] == 0 {
		return string(e[:len(e)-1])
	}
	return string(e)
}
