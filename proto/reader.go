package proto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
)

// maxStringLength bounds strings read from the wire.
const maxStringLength = 1024

type ProtocolReader struct {
	r      *bufio.Reader
	err    error
	pos    int
	intBuf [8]byte
	buf    bytes.Buffer
}

func (p *ProtocolReader) setErr(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *ProtocolReader) advance(n int) {
	p.tmpbytes(n)
	p.pos += n
}

func (p *ProtocolReader) read(n int) []byte {
	if p.err != nil {
		return p.intBuf[:n]
	}
	if _, err := io.ReadFull(p.r, p.intBuf[:n]); err != nil {
		p.err = err
		return p.intBuf[:n]
	}
	p.pos += n
	return p.intBuf[:n]
}

func (p *ProtocolReader) byte() byte {
	b := p.read(1)
	if p.err != nil {
		return 0
	}
	return b[0]
}

func (p *ProtocolReader) uint32() uint32 {
	b := p.read(4)
	if p.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (p *ProtocolReader) uint64() uint64 {
	b := p.read(8)
	if p.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (p *ProtocolReader) string() string {
	p.buf.Reset()

	// Like bufio.Reader.ReadBytes, but accumulating into our own buffer.
	for {
		frag, err := p.r.ReadSlice(0)
		if err == nil {
			p.buf.Write(frag)
			break
		}
		if err != bufio.ErrBufferFull {
			p.err = err
			return ""
		}
		p.buf.Write(frag)
		if p.buf.Len() > maxStringLength {
			p.setErr(ErrProtocolError)
			return ""
		}
	}

	if p.buf.Len() == 0 {
		return ""
	}
	p.pos += p.buf.Len()
	return string(p.buf.Bytes()[:p.buf.Len()-1])
}

func (p *ProtocolReader) bytes(out []byte) {
	if _, err := io.ReadFull(p.r, out); err != nil {
		p.err = err
		return
	}
	p.pos += len(out)
}

// tmpbytes reads n bytes into a buffer that is reused by the next read.
// It does not advance pos.
func (p *ProtocolReader) tmpbytes(n int) []byte {
	p.buf.Reset()
	if _, err := io.CopyN(&p.buf, p.r, int64(n)); err != nil {
		p.err = err
		return nil
	}
	return p.buf.Bytes()
}

func (p *ProtocolReader) x() []byte {
	l := p.uint32()
	x := make([]byte, l)
	p.bytes(x)
	if p.err != nil {
		return nil
	}
	return x
}

func (p *ProtocolReader) propList(out PropList) {
	for p.err == nil {
		keyType := p.byte()
		if keyType == 'N' {
			break
		}
		if keyType != 't' {
			p.setErr(ErrProtocolError)
			return
		}
		key := p.string()
		if p.byte() != 'L' {
			p.setErr(ErrProtocolError)
			return
		}
		l := p.uint32()
		if p.byte() != 'x' {
			p.setErr(ErrProtocolError)
			return
		}
		value := p.x()
		if len(value) != int(l) {
			p.setErr(ErrProtocolError)
			return
		}
		out[key] = PropListEntry(value)
	}
}

func (p *ProtocolReader) formatInfo() FormatInfo {
	p.byte() // B
	enc := p.byte()
	p.byte() // P
	m := make(PropList)
	p.propList(m)
	return FormatInfo{enc, m}
}

// value decodes a tagstruct into the struct pointed to by i,
// skipping fields that do not exist at the given version.
func (p *ProtocolReader) value(i interface{}, version Version) {
	v := reflect.ValueOf(i).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if p.err != nil {
			return
		}
		if version.skip(string(t.Field(i).Tag)) {
			continue
		}

		f := v.Field(i)
		if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Struct {
			p.slice(f, version)
			continue
		}
		p.field(f)
	}
}

func (p *ProtocolReader) slice(f reflect.Value, version Version) {
	if _, ok := f.Interface().([]FormatInfo); ok {
		p.byte() // B
		fi := make([]FormatInfo, p.byte())
		for i := range fi {
			p.byte() // f
			fi[i] = p.formatInfo()
		}
		f.Set(reflect.ValueOf(fi))
		return
	}
	p.byte() // L
	l := int(p.uint32())
	fv := reflect.MakeSlice(f.Type(), l, l)
	for i := 0; i < l; i++ {
		p.value(fv.Index(i).Addr().Interface(), version)
	}
	f.Set(fv)
}

func (p *ProtocolReader) field(f reflect.Value) {
	switch typ := p.byte(); typ {
	case 't':
		f.SetString(p.string())
	case 'N':
		f.SetString("")
	case 'L':
		f.SetUint(uint64(p.uint32()))
	case 'B':
		f.SetUint(uint64(p.byte()))
	case 'R', 'U':
		f.SetUint(p.uint64())
	case 'r':
		f.SetInt(int64(p.uint64()))
	case 'a':
		f.Set(reflect.ValueOf(SampleSpec{p.byte(), p.byte(), p.uint32()}))
	case 'x':
		x := p.x()
		if f.Kind() == reflect.String {
			if len(x) > 0 {
				x = x[:len(x)-1]
			}
			f.SetString(string(x))
		} else {
			f.SetBytes(x)
		}
	case '1':
		f.SetBool(true)
	case '0':
		f.SetBool(false)
	case 'm':
		b := make([]byte, p.byte())
		p.bytes(b)
		f.SetBytes(b)
	case 'v':
		u := make(ChannelVolumes, p.byte())
		for i := range u {
			u[i] = p.uint32()
		}
		f.Set(reflect.ValueOf(u))
	case 'P':
		m := make(PropList)
		p.propList(m)
		f.Set(reflect.ValueOf(m))
	case 'f':
		f.Set(reflect.ValueOf(p.formatInfo()))
	default:
		p.setErr(ErrProtocolError)
	}
}
