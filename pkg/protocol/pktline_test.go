package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestPktWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	pw := NewPktWriter(&buf)
	if err := pw.WriteString("want abc123\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := pw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	pr := NewPktReader(&buf)
	payload, kind, err := pr.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if kind != PacketData || string(payload) != "want abc123\n" {
		t.Errorf("packet: kind %v, payload %q", kind, payload)
	}

	_, kind, err = pr.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket flush: %v", err)
	}
	if kind != PacketFlush {
		t.Errorf("kind: got %v, want PacketFlush", kind)
	}
}

func TestPktWireFormat(t *testing.T) {
	var buf bytes.Buffer
	pw := NewPktWriter(&buf)
	if err := pw.WriteString("hi\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if got := buf.String(); got != "0007hi\n" {
		t.Errorf("framed bytes: got %q, want %q", got, "0007hi\n")
	}

	buf.Reset()
	if err := pw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if buf.String() != "0000" {
		t.Errorf("flush bytes: got %q", buf.String())
	}

	buf.Reset()
	if err := pw.Delim(); err != nil {
		t.Fatalf("Delim: %v", err)
	}
	if buf.String() != "0001" {
		t.Errorf("delim bytes: got %q", buf.String())
	}
}

func TestPktEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	pw := NewPktWriter(&buf)
	if err := pw.WritePacket(nil); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if buf.String() != "0004" {
		t.Errorf("empty packet: got %q", buf.String())
	}

	payload, kind, err := NewPktReader(&buf).ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if kind != PacketData || len(payload) != 0 {
		t.Errorf("empty packet read: kind %v, payload %q", kind, payload)
	}
}

func TestPktDelimRead(t *testing.T) {
	pr := NewPktReader(strings.NewReader("0001"))
	_, kind, err := pr.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if kind != PacketDelim {
		t.Errorf("kind: got %v, want PacketDelim", kind)
	}
}

func TestPktMaxPayload(t *testing.T) {
	var buf bytes.Buffer
	pw := NewPktWriter(&buf)
	big := bytes.Repeat([]byte("x"), MaxPayloadLen)
	if err := pw.WritePacket(big); err != nil {
		t.Fatalf("max payload write: %v", err)
	}

	payload, _, err := NewPktReader(&buf).ReadPacket()
	if err != nil {
		t.Fatalf("max payload read: %v", err)
	}
	if len(payload) != MaxPayloadLen {
		t.Errorf("payload length: got %d, want %d", len(payload), MaxPayloadLen)
	}

	if err := pw.WritePacket(append(big, 'x')); !errors.Is(err, ErrMalformed) {
		t.Errorf("oversize write: got %v, want ErrMalformed", err)
	}
}

func TestPktReadMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"non-hex length", "zzzz"},
		{"reserved length 2", "0002"},
		{"reserved length 3", "0003"},
		{"length too large", "fff1"},
	}
	for _, tc := range cases {
		_, _, err := NewPktReader(strings.NewReader(tc.input)).ReadPacket()
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: got %v, want ErrMalformed", tc.name, err)
		}
	}
}

func TestPktReadShortPayload(t *testing.T) {
	// Header declares 8 payload bytes, only 3 arrive.
	_, _, err := NewPktReader(strings.NewReader("000cabc")).ReadPacket()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short payload: got %v, want ErrUnexpectedEOF", err)
	}
}

func TestPktReadEOF(t *testing.T) {
	_, _, err := NewPktReader(strings.NewReader("")).ReadPacket()
	if !errors.Is(err, io.EOF) {
		t.Errorf("empty stream: got %v, want EOF", err)
	}
}

func TestPktWriteError(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPktWriter(&buf).WriteError("no repository"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	payload, kind, err := NewPktReader(&buf).ReadPacket()
	if err != nil || kind != PacketData {
		t.Fatalf("read: kind %v, err %v", kind, err)
	}
	if string(payload) != "ERR no repository\n" {
		t.Errorf("error line: got %q", payload)
	}
}
