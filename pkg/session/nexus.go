package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexusdsp/dsp/internal/logger"
	"github.com/nexusdsp/dsp/pkg/channel"
	"github.com/nexusdsp/dsp/pkg/dsperr"
	"github.com/nexusdsp/dsp/pkg/metrics"
	"github.com/nexusdsp/dsp/pkg/serial"
	"github.com/nexusdsp/dsp/pkg/transport"
	"github.com/nexusdsp/dsp/pkg/wire"
)

// optionSpecs is the negotiable option surface of spec §4.11: bounded
// integers reconciled by minimum, ordering/digest booleans by and/or, and
// algorithm preference lists by set intersection.
var optionSpecs = []wire.Spec{
	{Name: "queueDepth", Rule: wire.RuleMin},
	{Name: "maxFrameLength", Rule: wire.RuleMin},
	{Name: "orderedExecution", Rule: wire.RuleAnd},
	{Name: "digestData", Rule: wire.RuleOr},
	{Name: "digest", Rule: wire.RuleStringList},
	{Name: "compress", Rule: wire.RuleStringList},
}

// Terminus identifies the client endpoint a login's Connect phase names
// (spec §6, "128-bit UUID + optional alias + ephemeral flag").
type Terminus struct {
	UUID      uuid.UUID
	Alias     string
	Ephemeral bool
}

// Config parameterizes one Nexus: slot table sizes, the sequencer depth,
// the keepalive timer, and the local option proposal.
type Config struct {
	SlotCapacity     uint32
	SequencerDepth   uint32
	MinKeepalive     time.Duration
	Recovery         transport.RecoveryConfig
	LocalProposal    string
	Scheduler        channel.Scheduler
	Tracer           trace.Tracer // nil disables tracing: Submit starts no span
}

// DefaultConfig matches the wire format's conservative defaults.
func DefaultConfig() Config {
	return Config{
		SlotCapacity:   32,
		SequencerDepth: 64,
		MinKeepalive:   30 * time.Second,
		Recovery:       transport.DefaultRecoveryConfig,
		LocalProposal:  "queueDepth=32;maxFrameLength=1048576;orderedExecution=true;digestData=false;digest=CRC32,ADLER32;compress=LZ4,DEFLATE",
		Scheduler:      &channel.RoundRobin{},
	}
}

// Nexus is the long-lived session identity (spec §4.11): it owns a fore
// channel (this side's issuing channel) and a back channel (this side's
// receiving channel), a set of transports, the negotiated option set, and
// the Session FSM that survives their churn.
type Nexus struct {
	cfg Config

	Handle []byte
	fsm    *FSM

	fore *channel.Initiator
	back *channel.Target

	mu       sync.Mutex
	links    map[string]*link
	sideIs   map[string]transport.Side
	negotiated map[string]string

	tracer trace.Tracer

	metrics *metrics.SessionMetrics
	chMetrics *metrics.ChannelMetrics

	// readyToAttach gates the final "attach transports to channels" step
	// of AcceptLogin. It starts closed (attach proceeds immediately); a
	// Registry reinstating a predecessor session replaces it with an open
	// channel it closes only once the predecessor reaches Zombie (spec
	// §4.10, "Session reinstatement").
	readyToAttach chan struct{}

	registry *Registry
	termKey  string

	createdAt time.Time
}

// AttachRegistry makes nx claim its terminus key in r as soon as the
// acceptor-side login learns the client terminus (spec §4.10, "Session
// reinstatement"). Must be called before AcceptLogin.
func (nx *Nexus) AttachRegistry(r *Registry) { nx.registry = r }

// New builds a Nexus whose back channel dispatches into dispatcher.
func New(cfg Config, dispatcher channel.Dispatcher, m *metrics.SessionMetrics, cm *metrics.ChannelMetrics) *Nexus {
	ready := make(chan struct{})
	close(ready)
	nx := &Nexus{
		cfg:           cfg,
		fsm:           NewFSM(cfg.MinKeepalive, m),
		fore:          channel.NewInitiator(cfg.SlotCapacity, cfg.Scheduler),
		links:         make(map[string]*link),
		sideIs:        make(map[string]transport.Side),
		negotiated:    make(map[string]string),
		tracer:        cfg.Tracer,
		metrics:       m,
		chMetrics:     cm,
		readyToAttach: ready,
		createdAt:     time.Now(),
	}
	nx.back = channel.NewTarget(cfg.SlotCapacity, cfg.SequencerDepth, serial.Number(0), dispatcher, nx)
	return nx
}

// deferAttach replaces the ready gate with a fresh, open one that a
// Registry will close once this nexus's predecessor has fully quiesced.
// Must be called before any transport has started logging in.
func (nx *Nexus) deferAttach() chan struct{} {
	gate := make(chan struct{})
	nx.mu.Lock()
	nx.readyToAttach = gate
	nx.mu.Unlock()
	return gate
}

// State returns the current Session FSM state.
func (nx *Nexus) State() State { return nx.fsm.State() }

// SendOn implements channel.Responder: it routes a frame produced by the
// back channel out over the named transport.
func (nx *Nexus) SendOn(transportID string, f wire.Frame) error {
	nx.mu.Lock()
	l, ok := nx.links[transportID]
	nx.mu.Unlock()
	if !ok {
		return fmt.Errorf("nexus: no attached transport %q", transportID)
	}
	return l.Send(f)
}

// linkByID returns the link for the given ID for internal use (login
// responses, pings).
func (nx *Nexus) linkByID(id string) (*link, bool) {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	l, ok := nx.links[id]
	return l, ok
}

// waitAttachReady blocks until a Registry-managed reinstatement gate (if
// any) opens, or ctx is done.
func (nx *Nexus) waitAttachReady(ctx context.Context) error {
	nx.mu.Lock()
	gate := nx.readyToAttach
	nx.mu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attachTransport records l and starts its read pump. Attaching l to the
// fore and back channels is left to the caller.
func (nx *Nexus) attachTransport(l *link) {
	nx.mu.Lock()
	nx.links[l.ID()] = l
	nx.mu.Unlock()
	go nx.readLoop(l)
}

func (nx *Nexus) detachTransport(id string, recoverable bool) {
	nx.mu.Lock()
	l, ok := nx.links[id]
	delete(nx.links, id)
	remaining := len(nx.links)
	nx.mu.Unlock()
	if !ok {
		return
	}
	l.fsm.Close(recoverable)
	nx.fore.Detach(id)
	nx.back.Detach(id)
	l.close()
	if remaining == 0 && nx.fsm.State() == LoggedIn {
		nx.fsm.TransportLost()
	}
}

// Login drives the initiator side of the per-transport login sequence
// (Connect -> Negotiate, spec §4.1/§4.11) over rw, then attaches the
// resulting transport to both channels. No Authenticate exchange is sent.
func (nx *Nexus) Login(ctx context.Context, id string, rw io.ReadWriter, closer io.Closer, terminus Terminus) error {
	l := newLink(id, transport.Initiator, rw, closer, nx.cfg.Recovery)
	l.fsm.BeginConnect()

	started := nx.fsm.State() == Free
	if started {
		nx.fsm.BeginLogin()
	}

	connReq := wire.Frame{Body: &wire.LoginConnectRequest{
		TerminusKind: wire.TerminusServiceUUID,
		Alias:        terminus.Alias,
		Ephemeral:    terminus.Ephemeral,
		UUID:         terminus.UUID,
	}}
	if err := l.Send(connReq); err != nil {
		l.fsm.Close(true)
		if started {
			nx.fsm.LoginFailed()
		}
		return dsperr.TransportReset(err)
	}
	connResp, err := l.recv()
	if err != nil {
		l.fsm.Close(true)
		if started {
			nx.fsm.LoginFailed()
		}
		return dsperr.TransportReset(err)
	}
	cr, ok := connResp.Body.(*wire.LoginConnectResponse)
	if !ok || cr.Status != wire.StatusOK {
		l.fsm.Close(false)
		if started {
			nx.fsm.LoginFailed()
		}
		return dsperr.Login(dsperr.SessionInvalid, "nexus: connect rejected")
	}
	nx.Handle = cr.SessionHandle
	l.fsm.BeginLogin()

	negReq := wire.Frame{Body: &wire.LoginNegotiateRequest{Proposal: nx.cfg.LocalProposal}}
	if err := l.Send(negReq); err != nil {
		l.fsm.Close(true)
		if started {
			nx.fsm.LoginFailed()
		}
		return dsperr.TransportReset(err)
	}
	negResp, err := l.recv()
	if err != nil {
		l.fsm.Close(true)
		if started {
			nx.fsm.LoginFailed()
		}
		return dsperr.TransportReset(err)
	}
	nr, ok := negResp.Body.(*wire.LoginNegotiateResponse)
	if !ok || nr.Status != wire.StatusOK {
		l.fsm.Close(false)
		if started {
			nx.fsm.LoginFailed()
		}
		return dsperr.Login(dsperr.ParameterUnsupported, "nexus: negotiate rejected")
	}

	nx.mu.Lock()
	for _, p := range mustParse(nr.Result) {
		nx.negotiated[p[0]] = p[1]
	}
	nx.sideIs[l.ID()] = transport.Initiator
	nx.mu.Unlock()

	if err := nx.waitAttachReady(ctx); err != nil {
		l.fsm.Close(false)
		return err
	}

	l.fsm.LoginComplete()
	nx.attachTransport(l)
	nx.fore.Attach(l)
	nx.back.Attach(l.ID())

	if started {
		nx.fsm.LoginSucceeded()
	}
	logger.Info("nexus login complete", "transport_id", l.ID(), "session_handle", fmt.Sprintf("%x", nx.Handle))
	return nil
}

// AcceptLogin drives the target side of the login sequence over an
// already-accepted byte stream.
func (nx *Nexus) AcceptLogin(ctx context.Context, id string, rw io.ReadWriter, closer io.Closer) error {
	l := newLink(id, transport.Target, rw, closer, nx.cfg.Recovery)
	l.fsm.BeginConnect()

	started := nx.fsm.State() == Free
	if started {
		nx.fsm.BeginLogin()
	}

	connReq, err := l.recv()
	if err != nil {
		return dsperr.TransportReset(err)
	}
	cq, ok := connReq.Body.(*wire.LoginConnectRequest)
	if !ok {
		return dsperr.Protocol("nexus: expected LoginConnectRequest, got %s", connReq.Body.Kind())
	}
	if len(nx.Handle) == 0 {
		if cq.Alias != "" {
			nx.Handle = []byte(cq.Alias)
		} else {
			nx.Handle = append([]byte(nil), cq.UUID[:]...)
		}
	}
	if nx.registry != nil {
		nx.termKey = terminusKey(cq)
		nx.registry.Claim(nx.termKey, nx)
	}
	if err := l.Send(wire.Frame{Body: &wire.LoginConnectResponse{Status: wire.StatusOK, SessionHandle: nx.Handle}}); err != nil {
		return dsperr.TransportReset(err)
	}
	l.fsm.BeginLogin()

	negReq, err := l.recv()
	if err != nil {
		return dsperr.TransportReset(err)
	}
	nq, ok := negReq.Body.(*wire.LoginNegotiateRequest)
	if !ok {
		return dsperr.Protocol("nexus: expected LoginNegotiateRequest, got %s", negReq.Body.Kind())
	}
	result, err := wire.Negotiate(optionSpecs, nx.cfg.LocalProposal, nq.Proposal)
	if err != nil {
		_ = l.Send(wire.Frame{Body: &wire.LoginNegotiateResponse{Status: uint16(dsperr.ParameterUnsupported)}})
		return dsperr.Login(dsperr.ParameterUnsupported, fmt.Sprintf("nexus: %v", err))
	}
	resultStr := wire.EncodeProposal(result)
	if err := l.Send(wire.Frame{Body: &wire.LoginNegotiateResponse{Status: wire.StatusOK, Result: resultStr}}); err != nil {
		return dsperr.TransportReset(err)
	}

	nx.mu.Lock()
	for _, p := range result {
		nx.negotiated[p[0]] = p[1]
	}
	nx.sideIs[l.ID()] = transport.Target
	nx.mu.Unlock()

	if err := nx.waitAttachReady(ctx); err != nil {
		l.fsm.Close(false)
		return err
	}

	l.fsm.LoginComplete()
	nx.attachTransport(l)
	nx.fore.Attach(l)
	nx.back.Attach(l.ID())

	if started {
		nx.fsm.LoginSucceeded()
	}
	logger.Info("nexus accepted login", "transport_id", l.ID())
	return nil
}

// terminusKey derives the Registry lookup key for a client terminus: its
// alias when one was supplied, else the hex-encoded service UUID.
func terminusKey(cq *wire.LoginConnectRequest) string {
	if cq.Alias != "" {
		return cq.Alias
	}
	return fmt.Sprintf("%x", cq.UUID)
}

// mustParse parses a known-good proposal string; a malformed negotiated
// result from our own Negotiate() call is a programming error.
func mustParse(s string) [][2]string {
	pairs, err := wire.ParseProposal(s)
	if err != nil {
		panic(fmt.Sprintf("nexus: negotiated result %q is malformed: %v", s, err))
	}
	return pairs
}

// readLoop pumps decoded frames off l and dispatches them to the
// appropriate channel until the link fails or is closed.
func (nx *Nexus) readLoop(l *link) {
	for {
		f, err := l.recv()
		if err != nil {
			nx.detachTransport(l.ID(), err != io.EOF)
			return
		}
		nx.dispatch(l, f)
	}
}

func (nx *Nexus) dispatch(l *link, f wire.Frame) {
	switch f.Body.(type) {
	case *wire.CommandRequest, *wire.TaskMgmtRequest, *wire.LogoutRequest:
		if err := nx.back.HandleFrame(f, l.ID()); err != nil {
			logger.Warn("nexus: back channel dispatch error", "transport_id", l.ID(), "error", err)
		}
	case *wire.CommandResponse:
		if err := nx.fore.Receive(f); err != nil {
			logger.Warn("nexus: fore channel dispatch error", "transport_id", l.ID(), "error", err)
		}
	case *wire.TaskMgmtResponse:
		if err := nx.fore.ReceiveTaskMgmt(f); err != nil {
			logger.Warn("nexus: fore channel taskmgmt dispatch error", "transport_id", l.ID(), "error", err)
		}
	case *wire.PingRequest:
		if err := nx.back.HandleFrame(f, l.ID()); err != nil {
			logger.Warn("nexus: ping dispatch error", "transport_id", l.ID(), "error", err)
		}
	case *wire.PingResponse:
		// Liveness only; no sibling-channel state to refresh beyond what
		// every frame's ExpectedCommandSN piggyback already carries.
	default:
		logger.Warn("nexus: unexpected frame on data path", "kind", f.Body.Kind())
	}
}

// Submit issues one command over the fore channel, wrapped in a trace
// span when a tracer is configured. The span carries no attributes.
func (nx *Nexus) Submit(ctx context.Context, payload []byte) (*channel.Result, error) {
	if nx.tracer != nil {
		var span trace.Span
		ctx, span = nx.tracer.Start(ctx, "dsp.command.submit")
		defer span.End()
	}
	start := time.Now()
	res, err := nx.fore.Submit(ctx, payload)
	if nx.chMetrics != nil {
		nx.chMetrics.ObserveSubmit("fore", time.Since(start).Seconds())
	}
	return res, err
}

// PendingExchangeID reports the exchange ID the next Submit call will use.
func (nx *Nexus) PendingExchangeID() uint64 {
	return nx.fore.PendingExchangeID()
}

// Abort requests cancellation of an in-flight command submitted on the
// fore channel.
func (nx *Nexus) Abort(exchangeID uint64) error {
	return nx.fore.Abort(exchangeID)
}

// Logout drains all attached transports with a graceful LogoutRequest/
// Response exchange and moves the session to Zombie (spec §4.10,
// "Logout").
func (nx *Nexus) Logout(ctx context.Context) error {
	nx.mu.Lock()
	ids := make([]string, 0, len(nx.links))
	for id := range nx.links {
		ids = append(ids, id)
	}
	nx.mu.Unlock()

	for _, id := range ids {
		l, ok := nx.linkByID(id)
		if !ok {
			continue
		}
		if err := l.Send(wire.Frame{Body: &wire.LogoutRequest{}}); err != nil {
			continue
		}
		resp, err := l.recv()
		if err != nil {
			continue
		}
		if _, ok := resp.Body.(*wire.LogoutResponse); ok {
			l.fsm.BeginLogout()
		}
	}
	nx.fsm.GracefulClose()
	if nx.registry != nil {
		nx.registry.Release(nx.termKey, nx)
	}
	for _, id := range ids {
		nx.detachTransport(id, true)
	}
	return nil
}

// Stats is a point-in-time snapshot of the nexus's channel and slot-table
// occupancy (spec §5, "Stats counters... read snapshots build consistent
// maps").
type Stats struct {
	State            string
	ForeSlotsInUse   int
	ForeSlotsCap     uint32
	BackSlotsInUse   int
	BackSlotsCap     uint32
	TransportsUp     int
	NegotiatedOptions map[string]string
	StartedAt        string // RFC3339; formatted for display via internal/cli/timeutil
	Uptime           string // Go duration string; formatted for display via internal/cli/timeutil
}

// DumpStats builds a Stats snapshot for display (e.g. the per-session
// table that cmd/dspdemo's run command prints at the end of the demo).
func (nx *Nexus) DumpStats() Stats {
	nx.mu.Lock()
	negotiated := make(map[string]string, len(nx.negotiated))
	for k, v := range nx.negotiated {
		negotiated[k] = v
	}
	up := len(nx.links)
	nx.mu.Unlock()

	return Stats{
		State:             nx.State().String(),
		ForeSlotsInUse:    nx.fore.SlotsInUse(),
		ForeSlotsCap:      nx.fore.SlotsCapacity(),
		BackSlotsInUse:    nx.back.SlotsInUse(),
		BackSlotsCap:      nx.back.SlotsCapacity(),
		TransportsUp:      up,
		NegotiatedOptions: negotiated,
		StartedAt:         nx.createdAt.UTC().Format(time.RFC3339),
		Uptime:            time.Since(nx.createdAt).String(),
	}
}

// Close tears down the session's event dispatch loop without a protocol
// logout; used after the session has already reached Zombie.
func (nx *Nexus) Close() {
	nx.fsm.Close()
}
