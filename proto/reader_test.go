package proto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"strings"
	"testing"
)

func bigEndian(values ...interface{}) *bytes.Buffer {
	var buf bytes.Buffer
	for _, v := range values {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			panic(err)
		}
	}
	return &buf
}

func prepareUint32Buf() *bytes.Buffer {
	var buf bytes.Buffer
	for i := uint32(0); i < 1000; i++ {
		binary.Write(&buf, binary.BigEndian, i)
	}
	return &buf
}

func TestProtocolReaderIntegers(t *testing.T) {
	cases := []struct {
		name string
		size int
		read func(r *ProtocolReader) uint64
	}{
		{"byte", 1, func(r *ProtocolReader) uint64 { return uint64(r.byte()) }},
		{"uint32", 4, func(r *ProtocolReader) uint64 { return uint64(r.uint32()) }},
		{"uint64", 8, func(r *ProtocolReader) uint64 { return r.uint64() }},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		for i := 0; i < 255; i++ {
			b := make([]byte, c.size)
			b[c.size-1] = byte(i)
			buf.Write(b)
		}
		r := ProtocolReader{r: bufio.NewReader(&buf)}
		for i := uint64(0); i < 255; i++ {
			d := c.read(&r)
			if r.err != nil {
				t.Fatalf("%s: expecting no error, got %v", c.name, r.err)
			}
			if d != i {
				t.Fatalf("%s: expecting read %d, got %d", c.name, i, d)
			}
		}
		if r.pos != 255*c.size {
			t.Errorf("%s: expecting final pos %d, got %d", c.name, 255*c.size, r.pos)
		}
	}
}

func TestProtocolReaderShortRead(t *testing.T) {
	r := ProtocolReader{r: bufio.NewReader(bytes.NewReader([]byte{1, 2}))}
	if d := r.uint32(); d != 0 {
		t.Errorf("expecting 0 on short read, got %d", d)
	}
	if r.err != io.ErrUnexpectedEOF {
		t.Errorf("expecting %v, got %v", io.ErrUnexpectedEOF, r.err)
	}
	r.setErr(ErrProtocolError)
	if r.err != io.ErrUnexpectedEOF {
		t.Errorf("setErr replaced the first error: %v", r.err)
	}
}

func BenchmarkProtocolReaderUint32(b *testing.B) {
	buf := prepareUint32Buf().Bytes()
	reader := bufio.NewReader(bytes.NewReader(buf))
	r := ProtocolReader{r: reader}

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		reader.Reset(bytes.NewReader(buf))
		for i := uint32(0); i < 1000; i++ {
			if d := r.uint32(); d != i || r.err != nil {
				b.Fatalf("expecting read %d, got %d (%v)", i, d, r.err)
			}
		}
	}
}

func TestProtocolReaderBytes(t *testing.T) {
	r := ProtocolReader{r: bufio.NewReader(prepareUint32Buf())}

	b := make([]byte, 4000)
	r.bytes(b)
	for i := uint32(0); i < 1000; i++ {
		if u := binary.BigEndian.Uint32(b[i*4 : (i+1)*4]); u != i {
			t.Fatalf("expecting %d, got %d", i, u)
		}
	}
	if r.pos != 4000 {
		t.Errorf("expecting final pos %d, got %d", 4000, r.pos)
	}
}

func TestProtocolReaderTmpBytes(t *testing.T) {
	r := ProtocolReader{r: bufio.NewReader(prepareUint32Buf())}

	b := r.tmpbytes(4000)
	for i := uint32(0); i < 1000; i++ {
		if u := binary.BigEndian.Uint32(b[i*4 : (i+1)*4]); u != i {
			t.Fatalf("expecting %d, got %d", i, u)
		}
	}
	if r.pos != 0 {
		t.Errorf("expecting final pos %d, got %d", 0, r.pos)
	}
}

func TestProtocolReaderString(t *testing.T) {
	original := "Lorem ipsum dolor sit amet, consectetur adipiscing elit.\x00"
	r := ProtocolReader{r: bufio.NewReader(strings.NewReader(original))}

	if s := r.string(); s != original[:len(original)-1] {
		t.Errorf("expecting %s, got %s", original[:len(original)-1], s)
	}
	if r.pos != len(original) {
		t.Errorf("expecting final pos %d, got %d", len(original), r.pos)
	}
}

func TestProtocolReaderStringTooLong(t *testing.T) {
	long := strings.Repeat("a", 8192) + "\x00"
	r := ProtocolReader{r: bufio.NewReaderSize(strings.NewReader(long), 16)}
	r.string()
	if r.err != ErrProtocolError {
		t.Errorf("expecting %v, got %v", ErrProtocolError, r.err)
	}
}

func TestProtocolReaderX(t *testing.T) {
	buf := bigEndian(uint32(1000))
	for i := uint32(0); i < 250; i++ {
		binary.Write(buf, binary.BigEndian, i)
	}
	r := ProtocolReader{r: bufio.NewReader(buf)}

	b := r.x()
	if len(b) != 1000 {
		t.Fatalf("expecting length of %d, got %d", 1000, len(b))
	}
	for i := uint32(0); i < 250; i++ {
		if u := binary.BigEndian.Uint32(b[i*4 : (i+1)*4]); u != i {
			t.Fatalf("expecting %d, got %d", i, u)
		}
	}
	if r.pos != 1004 {
		t.Errorf("expecting final pos %d, got %d", 1004, r.pos)
	}
}

// The reply to CreatePlaybackStream changes shape with the protocol version.
func TestProtocolValueVersions(t *testing.T) {
	encode := func(v Version) []byte {
		var buf bytes.Buffer
		w := ProtocolWriter{w: &buf}
		w.value(&CreatePlaybackStreamReply{
			StreamIndex:        1,
			SinkInputIndex:     2,
			Missing:            4096,
			BufferTargetLength: 8192,
			SampleSpec:         SampleSpec{FormatInt16LE, 1, 44100},
			ChannelMap:         []byte{ChannelMono},
			SinkName:           "sink",
			SinkLatency:        1000,
			FormatInfo:         FormatInfo{EncodingPCM, PropList{}},
		}, v)
		w.flush()
		return buf.Bytes()
	}

	old := encode(8)
	if len(old) != 15 {
		t.Errorf("expecting 3 tagged uint32 at version 8, got %d bytes", len(old))
	}

	var reply CreatePlaybackStreamReply
	r := ProtocolReader{r: bufio.NewReader(bytes.NewReader(encode(ClientVersion)))}
	r.value(&reply, ClientVersion)
	if r.err != nil {
		t.Fatal(r.err)
	}
	want := CreatePlaybackStreamReply{
		StreamIndex:        1,
		SinkInputIndex:     2,
		Missing:            4096,
		BufferTargetLength: 8192,
		SampleSpec:         SampleSpec{FormatInt16LE, 1, 44100},
		ChannelMap:         []byte{ChannelMono},
		SinkName:           "sink",
		SinkLatency:        1000,
		FormatInfo:         FormatInfo{EncodingPCM, PropList{}},
	}
	if !reflect.DeepEqual(reply, want) {
		t.Errorf("expecting %+v, got %+v", want, reply)
	}
}

func TestProtocolPropList(t *testing.T) {
	props := PropList{
		"media.name":       PropListString("playback"),
		"application.name": PropListString("rk-pa-test"),
	}
	var buf bytes.Buffer
	w := ProtocolWriter{w: &buf}
	w.field(props)
	w.flush()

	var out struct{ P PropList }
	r := ProtocolReader{r: bufio.NewReader(&buf)}
	r.value(&out, ClientVersion)
	if r.err != nil {
		t.Fatal(r.err)
	}
	if out.P["media.name"].String() != "playback" {
		t.Errorf("unexpected media.name %q", out.P["media.name"])
	}
	if !reflect.DeepEqual(props, out.P) {
		t.Errorf("expecting %v, got %v", props, out.P)
	}
}

func TestProtocolUnknownType(t *testing.T) {
	var out struct{ X uint32 }
	r := ProtocolReader{r: bufio.NewReader(bytes.NewReader([]byte{'?', 0, 0, 0, 0}))}
	r.value(&out, ClientVersion)
	if r.err != ErrProtocolError {
		t.Errorf("expecting %v, got %v", ErrProtocolError, r.err)
	}
}
