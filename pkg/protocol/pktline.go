// Package protocol implements the daemon's wire protocol: pkt-line
// framing, the request line, and the per-connection upload-pack state
// machine.
package protocol

import (
	"errors"
	"fmt"
	"io"
)

// MaxPayloadLen is the maximum pkt-line payload: the 4-digit hex length
// prefix counts itself, capping a full packet at 65520 bytes.
const MaxPayloadLen = 65516

// ErrMalformed reports a framing or request-line violation. The
// connection is closed after an error response; the server keeps
// accepting other connections.
var ErrMalformed = errors.New("malformed protocol data")

// PacketKind distinguishes data packets from the two reserved
// zero-length markers.
type PacketKind int

const (
	// PacketData carries a payload.
	PacketData PacketKind = iota
	// PacketFlush ("0000") terminates a protocol section.
	PacketFlush
	// PacketDelim ("0001") separates negotiation phases.
	PacketDelim
)

// PktWriter frames protocol messages as pkt-lines: a fixed-width
// hexadecimal length header followed by that many payload bytes.
type PktWriter struct {
	w io.Writer
}

// NewPktWriter creates a PktWriter over w.
func NewPktWriter(w io.Writer) *PktWriter {
	return &PktWriter{w: w}
}

// WritePacket writes one data packet.
func (pw *PktWriter) WritePacket(payload []byte) error {
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("%w: payload of %d bytes exceeds pkt-line maximum", ErrMalformed, len(payload))
	}
	if _, err := fmt.Fprintf(pw.w, "%04x", len(payload)+4); err != nil {
		return err
	}
	_, err := pw.w.Write(payload)
	return err
}

// WriteString writes s as a single data packet.
func (pw *PktWriter) WriteString(s string) error {
	return pw.WritePacket([]byte(s))
}

// Writef formats and writes one data packet.
func (pw *PktWriter) Writef(format string, args ...any) error {
	return pw.WriteString(fmt.Sprintf(format, args...))
}

// Flush writes the section-terminator marker.
func (pw *PktWriter) Flush() error {
	_, err := io.WriteString(pw.w, "0000")
	return err
}

// Delim writes the negotiation-phase delimiter marker.
func (pw *PktWriter) Delim() error {
	_, err := io.WriteString(pw.w, "0001")
	return err
}

// WriteError frames msg as a protocol error line ("ERR <msg>"),
// delivered to the client before the connection closes so it can tell
// a server-side failure from a network fault.
func (pw *PktWriter) WriteError(msg string) error {
	return pw.WriteString("ERR " + msg + "\n")
}

// PktReader reads pkt-line framed messages.
type PktReader struct {
	r io.Reader
}

// NewPktReader creates a PktReader over r.
func NewPktReader(r io.Reader) *PktReader {
	return &PktReader{r: r}
}

// ReadPacket reads one packet. For PacketFlush and PacketDelim the
// payload is nil. Length headers that are not hex, exceed the payload
// maximum, or name a reserved length are ErrMalformed.
func (pr *PktReader) ReadPacket() ([]byte, PacketKind, error) {
	var head [4]byte
	if _, err := io.ReadFull(pr.r, head[:]); err != nil {
		return nil, PacketData, err
	}

	length := 0
	for _, c := range head {
		d, ok := hexDigit(c)
		if !ok {
			return nil, PacketData, fmt.Errorf("%w: length header %q", ErrMalformed, head)
		}
		length = length<<4 | d
	}

	switch length {
	case 0:
		return nil, PacketFlush, nil
	case 1:
		return nil, PacketDelim, nil
	}
	if length < 4 || length-4 > MaxPayloadLen {
		return nil, PacketData, fmt.Errorf("%w: packet length %d", ErrMalformed, length)
	}

	payload := make([]byte, length-4)
	if _, err := io.ReadFull(pr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, PacketData, err
	}
	return payload, PacketData, nil
}

func hexDigit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}
