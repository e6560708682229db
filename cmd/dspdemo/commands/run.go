package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nexusdsp/dsp/internal/cli/output"
	"github.com/nexusdsp/dsp/internal/cli/timeutil"
	"github.com/nexusdsp/dsp/internal/logger"
	"github.com/nexusdsp/dsp/pkg/session"
)

var runOutput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the loopback session-protocol demonstration",
	Long: `run drives a pair of Nexus endpoints joined by an in-process pipe
through login, concurrent out-of-order command submission, a mid-flight
abort, and a session reinstatement, then prints the final stats for both
the predecessor and successor sessions.`,
	RunE: runDemo,
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func echoUpper(_ context.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	for i, b := range payload {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return out, nil
}

// loginPair wires a fresh pipe transport between a new client and server
// Nexus and drives both sides' login to completion.
func loginPair(ctx context.Context, reg *session.Registry, term uuid.UUID, transportID string) (client, server *session.Nexus, err error) {
	clientConn, serverConn := net.Pipe()
	cfg := session.DefaultConfig()
	client = session.New(cfg, echoUpper, nil, nil)
	server = session.New(cfg, echoUpper, nil, nil)
	if reg != nil {
		server.AttachRegistry(reg)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- server.AcceptLogin(ctx, transportID, serverConn, serverConn) }()
	go func() { errCh <- client.Login(ctx, transportID, clientConn, clientConn, session.Terminus{UUID: term}) }()
	for i := 0; i < 2; i++ {
		if e := <-errCh; e != nil {
			return nil, nil, e
		}
	}
	return client, server, nil
}

type submitOutcome struct {
	label   string
	payload string
	err     error
}

func runDemo(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(runOutput)
	if err != nil {
		return err
	}

	ctx := context.Background()
	term := uuid.New()
	reg := session.NewRegistry()

	logger.Info("establishing leading login", "terminus", term.String())
	client1, server1, err := loginPair(ctx, reg, term, "t1")
	if err != nil {
		return fmt.Errorf("first login: %w", err)
	}

	logger.Info("submitting commands concurrently, letting the sequencer reorder them")
	results := make(chan submitOutcome, 3)
	for _, p := range []string{"alpha", "bravo", "charlie"} {
		p := p
		go func() {
			res, err := client1.Submit(ctx, []byte(p))
			if err != nil {
				results <- submitOutcome{label: p, err: err}
				return
			}
			results <- submitOutcome{label: p, payload: string(res.Payload)}
		}()
	}
	for i := 0; i < 3; i++ {
		o := <-results
		if o.err != nil {
			return fmt.Errorf("submit %s: %w", o.label, o.err)
		}
		logger.Info("command completed", "request", o.label, "response", o.payload)
	}

	logger.Info("submitting a command to cancel via task-management")
	abortID := client1.PendingExchangeID()
	abortRes := make(chan submitOutcome, 1)
	go func() {
		res, err := client1.Submit(ctx, []byte("delta"))
		if err != nil {
			abortRes <- submitOutcome{label: "delta", err: err}
			return
		}
		abortRes <- submitOutcome{label: "delta", payload: string(res.Payload)}
	}()
	time.Sleep(2 * time.Millisecond) // let the command become wire-visible before aborting it
	if err := client1.Abort(abortID); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	o := <-abortRes
	if o.err != nil {
		logger.Info("aborted command resolved with a task-management outcome", "error", o.err)
	} else {
		logger.Info("aborted command still completed normally (abort lost the race)", "response", o.payload)
	}

	logger.Info("reinstating the session with a second leading login for the same terminus")
	client2, server2, err := loginPair(ctx, reg, term, "t2")
	if err != nil {
		return fmt.Errorf("second login: %w", err)
	}

	res2, err := client2.Submit(ctx, []byte("echo"))
	if err != nil {
		return fmt.Errorf("submit on successor: %w", err)
	}
	logger.Info("successor session is live", "response", string(res2.Payload))

	printer := output.NewPrinter(os.Stdout, format, true)
	if err := printer.Print(demoStats{
		{"predecessor (t1)", server1.DumpStats()},
		{"successor (t2)", server2.DumpStats()},
	}); err != nil {
		return err
	}

	client1.Close()
	server1.Close()
	client2.Close()
	server2.Close()
	return nil
}

// demoStats adapts a slice of labelled session.Stats snapshots to
// output.TableRenderer.
type demoStats []struct {
	Label string
	Stats session.Stats
}

func (d demoStats) Headers() []string {
	return []string{"Session", "State", "Fore Slots", "Back Slots", "Transports", "Started", "Uptime"}
}

func (d demoStats) Rows() [][]string {
	rows := make([][]string, 0, len(d))
	for _, e := range d {
		rows = append(rows, []string{
			e.Label,
			e.Stats.State,
			fmt.Sprintf("%d/%d", e.Stats.ForeSlotsInUse, e.Stats.ForeSlotsCap),
			fmt.Sprintf("%d/%d", e.Stats.BackSlotsInUse, e.Stats.BackSlotsCap),
			fmt.Sprintf("%d", e.Stats.TransportsUp),
			timeutil.FormatTime(e.Stats.StartedAt),
			timeutil.FormatUptime(e.Stats.Uptime),
		})
	}
	return rows
}
