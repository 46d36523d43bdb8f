package proto

import (
	"io"
	"reflect"
)

const writeBufferSize = 1024

type ProtocolWriter struct {
	w   io.Writer
	buf []byte
	pos int
	err error
}

func (p *ProtocolWriter) flush() {
	if p.err != nil || p.pos == 0 {
		p.pos = 0
		return
	}
	if _, err := p.w.Write(p.buf[:p.pos]); err != nil {
		p.err = err
	}
	p.pos = 0
}

// ensure makes room for n more bytes, flushing if necessary.
// Values larger than the buffer grow it.
func (p *ProtocolWriter) ensure(n int) {
	if p.buf == nil {
		p.buf = make([]byte, writeBufferSize)
	}
	if p.pos+n <= len(p.buf) {
		return
	}
	p.flush()
	if n > len(p.buf) {
		p.buf = make([]byte, n)
	}
}

func (p *ProtocolWriter) byte(b byte) {
	p.ensure(1)
	p.buf[p.pos] = b
	p.pos++
}

func (p *ProtocolWriter) uint32(u uint32) {
	p.ensure(4)
	p.buf[p.pos] = byte(u >> 24)
	p.buf[p.pos+1] = byte(u >> 16)
	p.buf[p.pos+2] = byte(u >> 8)
	p.buf[p.pos+3] = byte(u)
	p.pos += 4
}

func (p *ProtocolWriter) uint64(u uint64) {
	p.uint32(uint32(u >> 32))
	p.uint32(uint32(u))
}

func (p *ProtocolWriter) string(s string) {
	p.ensure(len(s) + 1)
	copy(p.buf[p.pos:], s)
	p.buf[p.pos+len(s)] = 0
	p.pos += len(s) + 1
}

func (p *ProtocolWriter) x(x []byte) {
	p.uint32(uint32(len(x)))
	p.ensure(len(x))
	copy(p.buf[p.pos:], x)
	p.pos += len(x)
}

func (p *ProtocolWriter) propList(list PropList) {
	for k, v := range list {
		p.byte('t')
		p.string(k)
		p.byte('L')
		p.uint32(uint32(len(v)))
		p.byte('x')
		p.x(v)
	}
	p.byte('N')
}

func (p *ProtocolWriter) formatInfo(f FormatInfo) {
	p.byte('f')
	p.byte('B')
	p.byte(f.Encoding)
	p.byte('P')
	p.propList(f.Properties)
}

// value encodes the struct pointed to by i as a tagstruct,
// leaving out fields that do not exist at the given version.
func (p *ProtocolWriter) value(i interface{}, version Version) {
	if i == nil {
		return
	}
	v := reflect.ValueOf(i).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if version.skip(string(t.Field(i).Tag)) {
			continue
		}
		p.field(v.Field(i).Interface())
	}
}

func (p *ProtocolWriter) field(f interface{}) {
	switch f := f.(type) {
	case string:
		if f == "" {
			p.byte('N')
		} else {
			p.byte('t')
			p.string(f)
		}
	case uint32:
		p.byte('L')
		p.uint32(f)
	case Version:
		p.byte('L')
		p.uint32(uint32(f))
	case byte:
		p.byte('B')
		p.byte(f)
	case uint64:
		p.byte('R')
		p.uint64(f)
	case int64:
		p.byte('r')
		p.uint64(uint64(f))
	case SampleSpec:
		p.byte('a')
		p.byte(f.Format)
		p.byte(f.Channels)
		p.uint32(f.Rate)
	case []byte:
		p.byte('x')
		p.x(f)
	case bool:
		if f {
			p.byte('1')
		} else {
			p.byte('0')
		}
	case Microseconds:
		p.byte('U')
		p.uint64(uint64(f))
	case ChannelMap:
		p.byte('m')
		p.byte(byte(len(f)))
		p.ensure(len(f))
		p.pos += copy(p.buf[p.pos:], f)
	case ChannelVolumes:
		p.byte('v')
		p.byte(byte(len(f)))
		for _, u := range f {
			p.uint32(u)
		}
	case PropList:
		p.byte('P')
		p.propList(f)
	case FormatInfo:
		p.formatInfo(f)
	case []FormatInfo:
		p.byte('B')
		p.byte(byte(len(f)))
		for _, f := range f {
			p.formatInfo(f)
		}
	}
}
