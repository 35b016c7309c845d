package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/gitserve/pkg/repo"
)

// connState tracks a connection through its lifecycle. Transitions only
// move forward; any fault at any state jumps straight to stateClosed.
type connState int

const (
	stateConnected connState = iota
	stateReadingRequest
	stateDispatched
	stateNegotiating
	stateSendingPack
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateReadingRequest:
		return "reading-request"
	case stateDispatched:
		return "dispatched"
	case stateNegotiating:
		return "negotiating"
	case stateSendingPack:
		return "sending-pack"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// conn drives the request/negotiation/response state machine for one
// accepted connection. Failures are isolated here: nothing a single
// client does can take the server down.
type conn struct {
	srv   *Server
	nc    net.Conn
	pr    *PktReader
	pw    *PktWriter
	log   *zap.Logger
	state connState
}

func newConn(srv *Server, nc net.Conn) *conn {
	return &conn{
		srv: srv,
		nc:  nc,
		pr:  NewPktReader(nc),
		pw:  NewPktWriter(nc),
		log: srv.log.With(zap.String("remote", nc.RemoteAddr().String())),
	}
}

func (c *conn) setState(s connState) {
	c.state = s
	c.log.Debug("connection state", zap.Stringer("state", s))
}

// serve runs the connection to completion. The context is the server's;
// cancellation closes the socket out from under any in-flight read or
// write, which aborts the walk and stream promptly. Negotiation never
// mutates the store, so aborting mid-flight leaves no partial state.
func (c *conn) serve(ctx context.Context) {
	defer c.setState(stateClosed)
	defer c.nc.Close()

	stop := context.AfterFunc(ctx, func() { c.nc.Close() })
	defer stop()

	c.setState(stateReadingRequest)
	c.refreshIdleDeadline()
	payload, kind, err := c.pr.ReadPacket()
	if err != nil || kind != PacketData {
		c.log.Debug("request read failed", zap.Error(err))
		return
	}

	req, err := ParseRequest(payload)
	if err != nil {
		c.fail(err.Error())
		return
	}
	c.log = c.log.With(zap.String("service", req.Service), zap.String("path", req.Path))

	c.setState(stateDispatched)
	if req.Service != ServiceUploadPack {
		c.fail(fmt.Sprintf("service %s not enabled", req.Service))
		return
	}

	repository, err := c.srv.backend.Resolve(req.Path)
	if err != nil {
		if errors.Is(err, repo.ErrNoRepository) {
			c.fail(fmt.Sprintf("no repository at %s", req.Path))
		} else {
			c.log.Warn("backend resolve failed", zap.Error(err))
			c.fail("access denied")
		}
		return
	}

	if err := c.uploadPack(ctx, repository); err != nil {
		// I/O faults and disconnects just close; protocol faults
		// were already reported via an ERR packet.
		c.log.Debug("upload-pack ended with error", zap.Error(err))
	}
}

// fail frames an error message for the client and gives up on the
// connection. Write failures are irrelevant at this point.
func (c *conn) fail(msg string) {
	c.log.Info("rejecting connection", zap.String("reason", msg))
	_ = c.pw.WriteError(msg)
}

// refreshIdleDeadline arms the transport-level idle timeout, a
// hardening measure on top of the protocol itself.
func (c *conn) refreshIdleDeadline() {
	if c.srv.idleTimeout <= 0 {
		return
	}
	_ = c.nc.SetDeadline(time.Now().Add(c.srv.idleTimeout))
}

// readDataPacket reads one packet, treating the two terminator kinds
// and data uniformly for callers that loop over negotiation lines.
func (c *conn) readDataPacket() ([]byte, PacketKind, error) {
	c.refreshIdleDeadline()
	payload, kind, err := c.pr.ReadPacket()
	if errors.Is(err, io.EOF) {
		return nil, kind, io.EOF
	}
	return payload, kind, err
}
