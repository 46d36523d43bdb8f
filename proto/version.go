package proto

import "strconv"

// Version is a protocol version. The upper 16 bits carry capability flags.
type Version uint32

// ClientVersion is the highest protocol version this package speaks.
const ClientVersion Version = 32

func (v Version) Version() int { return int(v & 0xFFFF) }

func (v Version) Min(u Version) Version {
	flags := v & u & 0xFFFF0000
	v &= 0xFFFF
	if v > u&0xFFFF {
		v = u & 0xFFFF
	}
	return v | flags
}

// skip reports whether a field with the given struct tag is absent at version v.
// A tag "13" means the field exists since version 13, "<13" means it was
// removed in version 13.
func (v Version) skip(tag string) bool {
	if tag == "" {
		return false
	}
	if tag[0] == '<' {
		since, err := strconv.Atoi(tag[1:])
		return err == nil && since <= v.Version()
	}
	since, err := strconv.Atoi(tag)
	return err == nil && since > v.Version()
}
