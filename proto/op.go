package proto

// Command codes of the native protocol. Only the commands used by this
// module are listed, numbered as the server numbers them.
const (
	OpError   = 0
	OpTimeout = 1
	OpReply   = 2

	OpCreatePlaybackStream = 3
	OpDeletePlaybackStream = 4

	OpAuth          = 8
	OpSetClientName = 9

	OpDrainPlaybackStream = 12

	OpCorkPlaybackStream  = 41
	OpFlushPlaybackStream = 42

	OpRequest              = 61 // server -> client
	OpOverflow             = 62 // server -> client
	OpUnderflow            = 63 // server -> client
	OpPlaybackStreamKilled = 64 // server -> client

	OpPlaybackStreamSuspended = 76 // server -> client
	OpPlaybackStreamMoved     = 78 // server -> client

	OpStarted = 86 // server -> client

	OpPlaybackStreamEvent       = 92 // server -> client
	OpPlaybackBufferAttrChanged = 94 // server -> client
)

type RequestArgs interface{ command() uint32 }
type Reply interface{ IsReplyTo() uint32 }

type Auth struct {
	Version Version
	Cookie  []byte
}
type AuthReply struct {
	Version Version
}

type SetClientName struct {
	Props PropList
}
type SetClientNameReply struct {
	ClientIndex uint32
}

type CreatePlaybackStream struct {
	SampleSpec
	ChannelMap ChannelMap
	SinkIndex  uint32
	SinkName   string

	BufferMaxLength       uint32
	Corked                bool
	BufferTargetLength    uint32
	BufferPrebufferLength uint32
	BufferMinimumRequest  uint32

	SyncID uint32

	ChannelVolumes ChannelVolumes

	NoRemap      bool "12"
	NoRemix      bool "12"
	FixFormat    bool "12"
	FixRate      bool "12"
	FixChannels  bool "12"
	NoMove       bool "12"
	VariableRate bool "12"

	Muted         bool     "13"
	AdjustLatency bool     "13"
	Properties    PropList "13"

	VolumeSet     bool "14"
	EarlyRequests bool "14"

	MutedSet               bool "15"
	DontInhibitAutoSuspend bool "15"
	FailOnSuspend          bool "15"

	RelativeVolume bool "17"

	Passthrough bool "18"

	Formats []FormatInfo "21"
}
type CreatePlaybackStreamReply struct {
	StreamIndex    uint32
	SinkInputIndex uint32
	Missing        uint32

	BufferMaxLength       uint32 "9"
	BufferTargetLength    uint32 "9"
	BufferPrebufferLength uint32 "9"
	BufferMinimumRequest  uint32 "9"

	SampleSpec "12"
	ChannelMap []byte "12"

	SinkIndex     uint32 "12"
	SinkName      string "12"
	SinkSuspended bool   "12"

	SinkLatency Microseconds "13"

	FormatInfo "21"
}

type DeletePlaybackStream struct{ StreamIndex uint32 }

type DrainPlaybackStream struct{ StreamIndex uint32 }

type CorkPlaybackStream struct {
	StreamIndex uint32
	Corked      bool
}

type FlushPlaybackStream struct{ StreamIndex uint32 }

func (*Auth) command() uint32                 { return OpAuth }
func (*SetClientName) command() uint32        { return OpSetClientName }
func (*CreatePlaybackStream) command() uint32 { return OpCreatePlaybackStream }
func (*DeletePlaybackStream) command() uint32 { return OpDeletePlaybackStream }
func (*DrainPlaybackStream) command() uint32  { return OpDrainPlaybackStream }
func (*CorkPlaybackStream) command() uint32   { return OpCorkPlaybackStream }
func (*FlushPlaybackStream) command() uint32  { return OpFlushPlaybackStream }

func (*AuthReply) IsReplyTo() uint32                 { return OpAuth }
func (*SetClientNameReply) IsReplyTo() uint32        { return OpSetClientName }
func (*CreatePlaybackStreamReply) IsReplyTo() uint32 { return OpCreatePlaybackStream }

// SERVER -> CLIENT MESSAGES

type Request struct {
	StreamIndex uint32
	Length      uint32
}

type Overflow struct {
	StreamIndex uint32
}

type Underflow struct {
	StreamIndex uint32
	Offset      int64 "23"
}

type PlaybackStreamKilled struct{ StreamIndex uint32 }

type PlaybackStreamSuspended struct {
	StreamIndex uint32
	Suspended   bool
}

type PlaybackStreamMoved struct {
	StreamIndex uint32
	DestIndex   uint32
	DestName    string
	Suspended   bool

	BufferMaxLength       uint32       "13"
	BufferTargetLength    uint32       "13"
	BufferPrebufferLength uint32       "13"
	BufferMinimumRequest  uint32       "13"
	SinkLatency           Microseconds "13"
}

type Started struct{ StreamIndex uint32 }

type PlaybackStreamEvent struct {
	StreamIndex uint32
	Event       string
	Properties  PropList
}

type PlaybackBufferAttrChanged struct {
	StreamIndex           uint32
	BufferMaxLength       uint32
	BufferTargetLength    uint32
	BufferPrebufferLength uint32
	BufferMinimumRequest  uint32
	SinkLatency           Microseconds
}

// DataPacket is a memory block received for a stream.
// Data is only valid for the duration of the callback.
type DataPacket struct {
	StreamIndex uint32
	Data        []byte
}
