package proto

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path"
	"runtime"
	"strconv"
	"strings"
)

const defaultTCPPort = 4713

// cookieSize is the size of the authentication cookie.
const cookieSize = 256

// ErrNoServer is returned if no server string could be resolved.
var ErrNoServer = errors.New("pulseaudio: no valid server")

// Servers resolves the list of endpoints to try.
//
// For the server string format see
// https://www.freedesktop.org/wiki/Software/PulseAudio/Documentation/User/ServerStrings/
// If the server string is empty, the environment variable PULSE_SERVER will be used,
// and if that is not set either, the platform's default socket.
func Servers(server string) ([]ServerString, error) {
	var sstr []ServerString
	if server != "" {
		sstr = ParseServerString(server)
	} else if serverRaw, ok := os.LookupEnv("PULSE_SERVER"); ok {
		sstr = ParseServerString(serverRaw)
	} else {
		sstr = defaultServerStrings()
	}
	if len(sstr) == 0 {
		return nil, ErrNoServer
	}
	return sstr, nil
}

// Dial connects to the first reachable server in the list.
// Entries restricted to another host are skipped.
func Dial(servers []ServerString) (net.Conn, error) {
	localname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	lastErr := ErrNoServer
	for _, s := range servers {
		if s.Localname != "" && localname != s.Localname {
			continue
		}
		conn, err := net.Dial(s.Protocol, s.Addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, lastErr
}

// Authenticate sends the authentication cookie and negotiates the
// protocol version.
func Authenticate(c *Client) error {
	cookie, err := readCookie()
	if err != nil {
		return err
	}
	var authReply AuthReply
	err = c.Request(&Auth{
		Version: c.Version(),
		Cookie:  cookie,
	}, &authReply)
	if err != nil {
		return err
	}
	c.SetVersion(authReply.Version)
	return nil
}

func readCookie() ([]byte, error) {
	cookiePath := os.Getenv("HOME") + "/.config/pulse/cookie"
	if path, ok := os.LookupEnv("PULSE_COOKIE"); ok {
		cookiePath = path
	}

	cookie, err := os.ReadFile(cookiePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// If the server is launched with auth-anonymous=1,
		// any 256 bytes cookie will be accepted.
		return make([]byte, cookieSize), nil
	}
	if len(cookie) != cookieSize {
		return nil, fmt.Errorf("pulseaudio: invalid cookie %s", cookiePath)
	}
	return cookie, nil
}

// A ServerString is one endpoint of a server string.
type ServerString struct {
	Localname string
	Protocol  string
	Addr      string
}

func (s ServerString) String() string {
	if s.Localname != "" {
		return "{" + s.Localname + "}" + s.Protocol + ":" + s.Addr
	}
	return s.Protocol + ":" + s.Addr
}

// ParseServerString parses a space separated list of endpoints.
// Invalid entries are skipped.
func ParseServerString(str string) []ServerString {
	var result []ServerString
	for _, s := range strings.Fields(str) {
		server, ok := parseOneServerString(s)
		if !ok {
			continue
		}
		result = append(result, server)
	}
	return result
}

func parseOneServerString(s string) (ServerString, bool) {
	var server ServerString
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return ServerString{}, false
		}
		server.Localname = s[1:end]
		s = s[end+1:]
	}
	switch {
	case len(s) == 0:
		return ServerString{}, false
	case s[0] == '/':
		server.Protocol = "unix"
		server.Addr = s
	case strings.HasPrefix(s, "unix:"):
		server.Protocol = "unix"
		server.Addr = s[5:]
	case strings.HasPrefix(s, "tcp6:"):
		server.Protocol = "tcp6"
		server.Addr = withPort(s[5:])
	case strings.HasPrefix(s, "tcp4:"):
		server.Protocol = "tcp4"
		server.Addr = withPort(s[5:])
	case strings.HasPrefix(s, "tcp:"):
		server.Protocol = "tcp"
		server.Addr = withPort(s[4:])
	default:
		server.Protocol = "tcp"
		server.Addr = withPort(s)
	}
	return server, true
}

// withPort adds the default port if addr has none; the documentation
// lists a bare host name as a valid server.
func withPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(defaultTCPPort))
}

func defaultServerStrings() []ServerString {
	switch runtime.GOOS {
	case "linux":
		dir := os.Getenv("XDG_RUNTIME_DIR")
		if dir == "" {
			dir = fmt.Sprint("/run/user/", os.Getuid())
		}
		return []ServerString{{Protocol: "unix", Addr: path.Join(dir, "pulse/native")}}
	case "darwin":
		u, err := user.Current()
		if err != nil {
			return nil
		}
		h, err := os.Hostname()
		if err != nil {
			return nil
		}
		return []ServerString{{Protocol: "unix",
			Addr: fmt.Sprintf("%s/.config/pulse/%s-runtime/native", u.HomeDir, h),
		}}
	}
	return nil
}
