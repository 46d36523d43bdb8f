package proto

// Error is an error code sent by the server in reply to a failed request.
type Error uint32

const (
	ok Error = iota
	ErrAccessDenied
	ErrUnknownCommand
	ErrInvalidArgument
	ErrEntityExists
	ErrNoSuchEntity
	ErrConnectionRefused
	ErrProtocolError
	ErrTimeout
	ErrNoAuthenticationKey
	ErrInternalError
	ErrConnectionTerminated
	ErrEntityKilled
	ErrInvalidServer
	ErrModuleInitializationFailed
	ErrBadState
	ErrNoData
	ErrIncompatibleProtocolVersion
	ErrTooLarge
	ErrNotSupported
	ErrUnknownErrorCode
	ErrNoSuchExtension
	ErrObsoleteFunctionality
	ErrMissingImplementation
	ErrClientForked
	ErrInputOutputError
	ErrDeviceOrResourceBusy
)

var errorText = [...]string{
	ok:                             "ok",
	ErrAccessDenied:                "access denied",
	ErrUnknownCommand:              "unknown command",
	ErrInvalidArgument:             "invalid argument",
	ErrEntityExists:                "entity exists",
	ErrNoSuchEntity:                "no such entity",
	ErrConnectionRefused:           "connection refused",
	ErrProtocolError:               "protocol error",
	ErrTimeout:                     "timeout",
	ErrNoAuthenticationKey:         "no authentication key",
	ErrInternalError:               "internal error",
	ErrConnectionTerminated:        "connection terminated",
	ErrEntityKilled:                "entity killed",
	ErrInvalidServer:               "invalid server",
	ErrModuleInitializationFailed:  "module initialization failed",
	ErrBadState:                    "bad state",
	ErrNoData:                      "no data",
	ErrIncompatibleProtocolVersion: "incompatible protocol version",
	ErrTooLarge:                    "too large",
	ErrNotSupported:                "not supported",
	ErrUnknownErrorCode:            "unknown error code",
	ErrNoSuchExtension:             "no such extension",
	ErrObsoleteFunctionality:       "obsolete functionality",
	ErrMissingImplementation:       "missing implementation",
	ErrClientForked:                "client forked",
	ErrInputOutputError:            "input/output error",
	ErrDeviceOrResourceBusy:        "device or resource busy",
}

func (e Error) Error() string {
	if int(e) < len(errorText) {
		return "pulseaudio: " + errorText[e]
	}
	return "pulseaudio: invalid error code"
}
