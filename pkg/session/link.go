package session

import (
	"bufio"
	"io"
	"sync"

	"github.com/nexusdsp/dsp/internal/logger"
	"github.com/nexusdsp/dsp/pkg/transport"
	"github.com/nexusdsp/dsp/pkg/wire"
)

// link is one byte-stream transport joined to a Nexus: a read/write pair
// plus the transport.FSM gating when it may carry data. It implements
// channel.Transport so the initiator channel's scheduler can pick it
// directly, and the nexus uses it as the fan-out target for whatever the
// target channel's Responder needs to send back.
type link struct {
	fsm *transport.FSM

	wmu sync.Mutex
	w   io.Writer

	r *bufio.Reader
	c io.Closer
}

func newLink(id string, side transport.Side, rw io.ReadWriter, closer io.Closer, cfg transport.RecoveryConfig) *link {
	return &link{
		fsm: transport.New(id, side, cfg),
		w:   rw,
		r:   bufio.NewReaderSize(rw, wire.HeaderSize+4096),
		c:   closer,
	}
}

// ID satisfies channel.Transport.
func (l *link) ID() string { return l.fsm.ID() }

// QueueDepth satisfies channel.Transport.
func (l *link) QueueDepth() int { return l.fsm.QueueDepth() }

// Send serializes f and writes it whole; the write lock makes this safe
// for concurrent callers across both channels sharing the link.
func (l *link) Send(f wire.Frame) error {
	buf, err := wire.Encode(nil, f)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.fsm.SetQueueDepth(l.fsm.QueueDepth() + 1)
	defer l.fsm.SetQueueDepth(l.fsm.QueueDepth() - 1)
	_, err = l.w.Write(buf)
	return err
}

// recv blocks for the next complete frame off the wire.
func (l *link) recv() (wire.Frame, error) {
	return wire.Decode(l.r)
}

func (l *link) close() {
	if l.c != nil {
		_ = l.c.Close()
	}
	logger.Debug("transport link closed", "transport_id", l.fsm.ID())
}
