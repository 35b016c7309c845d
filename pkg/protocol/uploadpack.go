package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/gitserve/pkg/object"
	"github.com/odvcencio/gitserve/pkg/refs"
	"github.com/odvcencio/gitserve/pkg/repo"
)

// serverCapabilities is advertised after the first ref. The negotiation
// implemented here is the capability-free single-ack baseline, so the
// list stays empty; the slot exists because the wire format requires
// the NUL separator on the first advertised ref.
const serverCapabilities = ""

// uploadPack serves one fetch: advertise refs, collect wants and haves,
// compute the minimal closure, and stream it back as a pack.
func (c *conn) uploadPack(ctx context.Context, repository *repo.Repository) error {
	if err := c.advertiseRefs(repository); err != nil {
		return err
	}

	c.setState(stateNegotiating)
	wants, err := c.readWants()
	if err != nil {
		return err
	}
	if len(wants) == 0 {
		// Ref listing only (ls-remote): the client hangs up after
		// the advertisement.
		return nil
	}

	for _, id := range wants {
		if !repository.Objects.Contains(id) {
			c.fail(fmt.Sprintf("want %s not found", id))
			return fmt.Errorf("want %s: %w", id, object.ErrNotFound)
		}
	}

	haves, done, err := c.negotiateHaves(repository)
	if err != nil || !done {
		return err
	}

	// The reachability walk is the expensive part; the semaphore
	// bounds how many run at once across all connections.
	if err := c.srv.walks.Acquire(ctx, 1); err != nil {
		return err
	}
	closure, err := repository.Objects.Closure(wants, haves)
	c.srv.walks.Release(1)
	if err != nil {
		c.fail("internal error computing transfer set")
		return err
	}

	c.setState(stateSendingPack)
	return c.sendPack(ctx, repository.Objects, closure)
}

// advertiseRefs writes the ref advertisement: HEAD first when it
// resolves, then refs in name order, with peeled targets for annotated
// tags.
func (c *conn) advertiseRefs(repository *repo.Repository) error {
	list, err := repository.Refs.List("refs/")
	if err != nil {
		c.fail("cannot list refs")
		return err
	}

	first := true
	if head, err := repository.Head(); err == nil {
		if err := c.pw.Writef("%s HEAD\x00%s\n", head, serverCapabilities); err != nil {
			return err
		}
		first = false
	} else if !errors.Is(err, refs.ErrNotFound) {
		c.fail("cannot resolve HEAD")
		return err
	}

	for _, ref := range list {
		if first {
			err = c.pw.Writef("%s %s\x00%s\n", ref.Target, ref.Name, serverCapabilities)
			first = false
		} else {
			err = c.pw.Writef("%s %s\n", ref.Target, ref.Name)
		}
		if err != nil {
			return err
		}

		if peeled, ok := peelTag(repository.Objects, ref.Target); ok {
			if err := c.pw.Writef("%s %s^{}\n", peeled, ref.Name); err != nil {
				return err
			}
		}
	}
	return c.pw.Flush()
}

// peelTag chases annotated tags to their final non-tag target.
func peelTag(store *object.Store, id object.ID) (object.ID, bool) {
	peeled := false
	for {
		obj, err := store.GetObject(id)
		if err != nil {
			return object.ZeroID, false
		}
		tag, ok := obj.(*object.Tag)
		if !ok {
			return id, peeled
		}
		id = tag.Target
		peeled = true
	}
}

// readWants consumes "want <id>" lines up to the section terminator.
// Capabilities requested on the first want line are accepted and
// ignored; none of them alter the baseline negotiation.
func (c *conn) readWants() ([]object.ID, error) {
	var wants []object.ID
	for {
		payload, kind, err := c.readDataPacket()
		if err != nil {
			return nil, err
		}
		switch kind {
		case PacketFlush:
			return wants, nil
		case PacketDelim:
			c.fail("unexpected delimiter in want list")
			return nil, fmt.Errorf("%w: delimiter in want list", ErrMalformed)
		}

		line := strings.TrimSuffix(string(payload), "\n")
		rest, ok := strings.CutPrefix(line, "want ")
		if !ok {
			c.fail(fmt.Sprintf("expected want line, got %q", line))
			return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		idHex, caps, _ := strings.Cut(rest, " ")
		id, err := object.ParseID(idHex)
		if err != nil {
			c.fail(fmt.Sprintf("bad want id %q", idHex))
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(wants) == 0 && caps != "" {
			c.log.Debug("client capabilities ignored", zap.String("caps", caps))
		}
		wants = append(wants, id)
	}
}

// negotiateHaves reads "have <id>" batches, ACKing the first id the
// store knows and NAKing batches with no common ground, until the
// client sends done. Haves naming unknown objects are ignored: the
// client may reference history this server no longer has. A client
// that hangs up before done gets no pack (done=false, nil error).
func (c *conn) negotiateHaves(repository *repo.Repository) (haves []object.ID, done bool, err error) {
	acked := false
	for {
		payload, kind, err := c.readDataPacket()
		if errors.Is(err, ErrMalformed) {
			c.fail("malformed negotiation packet")
			return nil, false, err
		}
		if err != nil {
			// The client hung up mid-negotiation; nothing owed.
			return nil, false, nil
		}
		switch kind {
		case PacketFlush:
			if !acked {
				if err := c.pw.WriteString("NAK\n"); err != nil {
					return nil, false, err
				}
			}
			continue
		case PacketDelim:
			c.fail("unexpected delimiter in have list")
			return nil, false, fmt.Errorf("%w: delimiter in have list", ErrMalformed)
		}

		line := strings.TrimSuffix(string(payload), "\n")
		if line == "done" {
			if !acked {
				if err := c.pw.WriteString("NAK\n"); err != nil {
					return nil, false, err
				}
			}
			return haves, true, nil
		}

		idHex, ok := strings.CutPrefix(line, "have ")
		if !ok {
			c.fail(fmt.Sprintf("expected have line, got %q", line))
			return nil, false, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		id, err := object.ParseID(idHex)
		if err != nil {
			c.fail(fmt.Sprintf("bad have id %q", idHex))
			return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !repository.Objects.Contains(id) {
			continue
		}
		haves = append(haves, id)
		if !acked {
			if err := c.pw.Writef("ACK %s\n", id); err != nil {
				return nil, false, err
			}
			acked = true
		}
	}
}

// sendPack streams the closure as a pack directly on the transport:
// header, one raw entry per object, trailing checksum. An empty closure
// still produces a valid (zero-entry) pack so the client can verify.
func (c *conn) sendPack(ctx context.Context, store *object.Store, closure []object.ID) error {
	c.refreshIdleDeadline()
	pw, err := object.NewPackWriter(c.nc, uint32(len(closure)))
	if err != nil {
		return err
	}
	for _, id := range closure {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, body, err := store.Get(id)
		if err != nil {
			return fmt.Errorf("pack object %s: %w", id, err)
		}
		if err := pw.WriteObject(t, body); err != nil {
			return err
		}
	}
	if _, err := pw.Finish(); err != nil {
		return err
	}
	c.log.Info("pack sent", zap.Int("objects", len(closure)))
	return nil
}
