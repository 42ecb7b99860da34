package output

import (
	"bytes"
	"errors"
	"testing"

	"blaulicht/internal/logger"
)

type fakeSink struct {
	frames [][]byte
	err    error
	closed bool
}

func (f *fakeSink) Write(frame []byte) error {
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

type fakePort struct {
	bytes.Buffer
	closed bool
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestEncodeEnttec(t *testing.T) {
	frame := make([]byte, 513)
	frame[1] = 0xaa
	frame[512] = 0x55

	got := EncodeEnttec(frame)
	if len(got) != 513+5 {
		t.Fatalf("len = %d", len(got))
	}
	if !bytes.Equal(got[:4], []byte{0x7e, 6, 0x01, 0x02}) {
		t.Fatalf("header = % x", got[:4])
	}
	if got[4] != 0 || got[5] != 0xaa || got[516] != 0x55 || got[517] != 0xe7 {
		t.Fatalf("body = % x ... % x", got[4:6], got[516:])
	}
}

func TestSerialWrite(t *testing.T) {
	port := &fakePort{}
	s := newSerial(logger.NewDiscard(), "/dev/null", port)

	if err := s.Write([]byte{0, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x7e, 6, 4, 0, 0, 1, 2, 3, 0xe7}; !bytes.Equal(port.Bytes(), want) {
		t.Fatalf("wrote % x, want % x", port.Bytes(), want)
	}
	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("close: %v (closed=%t)", err, port.closed)
	}
}

func TestMultiFanOut(t *testing.T) {
	m := NewMulti(logger.NewDiscard())
	a, b := &fakeSink{}, &fakeSink{err: errors.New("unplugged")}
	if err := m.Set("a", a); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("b", b); err != nil {
		t.Fatal(err)
	}

	err := m.Write([]byte{0, 9})
	if err == nil {
		t.Fatal("failing sink not reported")
	}
	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Fatalf("frames a=%d b=%d", len(a.frames), len(b.frames))
	}

	b.err = nil
	if err := m.Write([]byte{0, 10}); err != nil {
		t.Fatalf("recovered sink: %v", err)
	}
	if names := m.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestMultiSetReplacesAndCloses(t *testing.T) {
	m := NewMulti(logger.NewDiscard())
	old, cur := &fakeSink{}, &fakeSink{}
	_ = m.Set("serial", old)
	if err := m.Set("serial", cur); err != nil {
		t.Fatal(err)
	}
	if !old.closed {
		t.Fatal("replaced sink not closed")
	}

	_ = m.Write([]byte{0})
	if len(old.frames) != 0 || len(cur.frames) != 1 {
		t.Fatalf("frames old=%d cur=%d", len(old.frames), len(cur.frames))
	}

	if err := m.Set("serial", nil); err != nil {
		t.Fatal(err)
	}
	if !cur.closed || len(m.Names()) != 0 {
		t.Fatal("nil Set did not remove the sink")
	}
}

func TestMultiClose(t *testing.T) {
	m := NewMulti(logger.NewDiscard())
	a := &fakeSink{}
	_ = m.Set("a", a)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || len(m.Names()) != 0 {
		t.Fatal("sinks not closed")
	}
}
