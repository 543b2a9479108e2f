// Package interactive provides the interactive command-line interface
// for the hub credential console.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/hubcred/hubcred-go/internal/harness/runner"
	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/credential"
	"github.com/hubcred/hubcred-go/pkg/issuance"
	"github.com/hubcred/hubcred-go/pkg/transport"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// Console handles interactive mode for hubcred-console.
type Console struct {
	cfg       *runner.Config
	opTimeout time.Duration
	rl        *readline.Instance

	mu        sync.Mutex
	session   transport.Session
	corr      *correlate.Correlator
	router    *issuance.Router
	stopWatch chan struct{}
	last      *issuance.Result
	lastID    string
}

// New creates a new interactive console bound to the given target.
// opTimeout bounds each connect and issue operation.
func New(cfg *runner.Config, opTimeout time.Duration) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hub> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		cfg:       cfg,
		opTimeout: opTimeout,
		rl:        rl,
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect", "c":
			c.cmdConnect()

		case "disconnect", "d":
			c.cmdDisconnect()

		case "issue", "i":
			c.cmdIssue(args)

		case "status", "s":
			c.cmdStatus()

		case "trace", "t":
			c.cmdTrace()

		case "cert":
			c.cmdCert()

		case "token":
			c.cmdToken(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

// Close drops the hub session if one is active. Safe to call more than
// once; main calls it on shutdown.
func (c *Console) Close() {
	c.mu.Lock()
	sess, stop := c.session, c.stopWatch
	c.session, c.corr, c.router, c.stopWatch = nil, nil, nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if sess != nil {
		sess.Disconnect()
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Hub Credential Console Commands:
  Session:
    connect            - Connect to the hub and subscribe to responses
    disconnect         - Drop the hub session
    status             - Show target, session, and last exchange state

  Issuance:
    issue [csr]        - Request a certificate (optional base64 CSR)
    cert               - Show the last issued certificate
    trace              - Show the last exchange's state transitions

  Auth:
    token [ttl]        - Print a fresh SAS token (e.g. 'token 30m')

  General:
    help               - Show this help
    quit               - Exit console`)
}

// cmdConnect dials the hub and subscribes to the credential response
// topic space.
func (c *Console) cmdConnect() {
	c.mu.Lock()
	if c.session != nil && c.session.Connected() {
		c.mu.Unlock()
		fmt.Fprintln(c.rl.Stdout(), "Already connected")
		return
	}
	c.mu.Unlock()

	sess, err := c.cfg.Session()
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	fmt.Fprintf(c.rl.Stdout(), "Connecting to %s:%d as %s...\n", c.cfg.Host, c.cfg.Port, c.cfg.DeviceID)
	if err := sess.Connect(ctx); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}

	corr := correlate.New(c.cfg.Logger)
	router, err := issuance.NewRouter(issuance.RouterConfig{
		Correlator:     corr,
		ConnectionID:   sess.ID(),
		DeviceID:       c.cfg.DeviceID,
		HubHost:        c.cfg.Host,
		Logger:         c.cfg.Logger,
		ProtocolLogger: c.cfg.ProtocolLogger,
	})
	if err != nil {
		sess.Disconnect()
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	err = sess.Subscribe(ctx, wire.ResponseFilter, issuance.DefaultQos, func(m transport.Message) {
		router.Handle(m.Topic, m.Payload)
	})
	if err != nil {
		sess.Disconnect()
		fmt.Fprintf(c.rl.Stdout(), "Subscribe failed: %v\n", err)
		return
	}

	stop := make(chan struct{})
	go c.watchLost(sess, stop)

	c.mu.Lock()
	c.session = sess
	c.corr = corr
	c.router = router
	c.stopWatch = stop
	c.mu.Unlock()

	fmt.Fprintf(c.rl.Stdout(), "Connected (session %s), subscribed to %s\n",
		shortID(sess.ID()), wire.ResponseFilter)
}

// cmdDisconnect drops the session on user request.
func (c *Console) cmdDisconnect() {
	c.mu.Lock()
	connected := c.session != nil
	c.mu.Unlock()

	if !connected {
		fmt.Fprintln(c.rl.Stdout(), "Not connected")
		return
	}
	c.Close()
	fmt.Fprintln(c.rl.Stdout(), "Disconnected")
}

// cmdIssue runs one issuance exchange and blocks until it resolves or
// the operation timeout expires.
func (c *Console) cmdIssue(args []string) {
	c.mu.Lock()
	sess, corr := c.session, c.corr
	c.mu.Unlock()

	if sess == nil || !sess.Connected() {
		fmt.Fprintln(c.rl.Stdout(), "Not connected (use 'connect' first)")
		return
	}

	csr := c.cfg.CSR
	if len(args) > 0 {
		csr = args[0]
	}

	// A fresh exchange per command; the shared correlator routes each
	// request id independently.
	ex, err := issuance.New(issuance.Config{
		Publisher:      sess,
		Correlator:     corr,
		DeviceID:       c.cfg.DeviceID,
		HubHost:        c.cfg.Host,
		Logger:         c.cfg.Logger,
		ProtocolLogger: c.cfg.ProtocolLogger,
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	req := wire.NewRequest(c.cfg.DeviceID, csr)
	if c.cfg.APIVersion != "" {
		req.APIVersion = c.cfg.APIVersion
	}

	fmt.Fprintf(c.rl.Stdout(), "Publishing request %s...\n", req.RequestID)

	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()
	res := ex.Issue(ctx, req)

	c.mu.Lock()
	c.last = &res
	c.lastID = req.RequestID
	c.mu.Unlock()

	c.printResult(res)
}

// cmdStatus shows the target, session, and last exchange summary.
func (c *Console) cmdStatus() {
	c.mu.Lock()
	sess := c.session
	last := c.last
	lastID := c.lastID
	c.mu.Unlock()

	out := c.rl.Stdout()
	fmt.Fprintln(out, "\nConsole Status")
	fmt.Fprintln(out, "-------------------------------------------")
	fmt.Fprintf(out, "  Target:     %s:%d\n", c.cfg.Host, c.cfg.Port)
	fmt.Fprintf(out, "  Device:     %s\n", c.cfg.DeviceID)

	auth := credential.MethodSAS
	if c.cfg.AuthMethod != runner.AuthSAS && c.cfg.DeviceCert != "" {
		auth = credential.MethodX509
	}
	fmt.Fprintf(out, "  Auth:       %s\n", auth)

	if sess != nil && sess.Connected() {
		fmt.Fprintf(out, "  Session:    connected (%s)\n", shortID(sess.ID()))
	} else {
		fmt.Fprintf(out, "  Session:    disconnected\n")
	}
	if last != nil {
		fmt.Fprintf(out, "  Last issue: %s (request %s, %s)\n",
			last.Outcome, lastID, last.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintln(out)
}

// cmdTrace prints the last exchange's state transition history.
func (c *Console) cmdTrace() {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil {
		fmt.Fprintln(c.rl.Stdout(), "No exchange yet (use 'issue')")
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "\nExchange trace (%d transitions):\n", len(last.Transitions))
	for _, t := range last.Transitions {
		line := fmt.Sprintf("  [%s] %s -> %s", t.At.Format("15:04:05.000"), t.From, t.To)
		if t.Note != "" {
			line += "  (" + t.Note + ")"
		}
		fmt.Fprintln(c.rl.Stdout(), line)
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdCert prints the last issued certificate, with parsed details when
// the material is a well-formed X.509 certificate.
func (c *Console) cmdCert() {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last == nil || last.Certificate == "" {
		fmt.Fprintln(c.rl.Stdout(), "No certificate issued yet")
		return
	}

	if parsed, err := credential.DecodeCertPEM([]byte(last.Certificate)); err == nil {
		fmt.Fprintf(c.rl.Stdout(), "Subject:     %s\n", parsed.Subject.CommonName)
		fmt.Fprintf(c.rl.Stdout(), "Issuer:      %s\n", parsed.Issuer.CommonName)
		fmt.Fprintf(c.rl.Stdout(), "Valid Until: %s\n", parsed.NotAfter.Format("2006-01-02"))
	}
	fmt.Fprint(c.rl.Stdout(), last.Certificate)
	if !strings.HasSuffix(last.Certificate, "\n") {
		fmt.Fprintln(c.rl.Stdout())
	}
}

// cmdToken prints a fresh SAS token for the configured target.
func (c *Console) cmdToken(args []string) {
	if c.cfg.SASKey == "" {
		fmt.Fprintln(c.rl.Stdout(), "SAS auth not configured (set -sas-key)")
		return
	}

	ttl := credential.DefaultTTL
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid TTL: %v\n", err)
			return
		}
		ttl = d
	}

	token, err := credential.Token(c.cfg.Host, c.cfg.SASKey, c.cfg.SASPolicy, time.Now().Add(ttl))
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Token generation failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), token)
}

// printResult summarizes an exchange result.
func (c *Console) printResult(res issuance.Result) {
	out := c.rl.Stdout()
	switch res.Outcome {
	case issuance.OutcomeSuccess:
		fmt.Fprintf(out, "SUCCESS in %s\n", res.Elapsed.Round(time.Millisecond))
		if res.Certificate != "" {
			fmt.Fprintf(out, "Certificate: %d bytes (use 'cert' to print)\n", len(res.Certificate))
		}
	case issuance.OutcomeTimeout:
		fmt.Fprintf(out, "TIMEOUT after %s: %v\n", res.Elapsed.Round(time.Millisecond), res.Err)
	default:
		fmt.Fprintf(out, "FAILURE after %s: %v\n", res.Elapsed.Round(time.Millisecond), res.Err)
	}
}

// watchLost prints a notice when the session drops unexpectedly. A user
// disconnect closes stop instead, which ends the watch quietly.
func (c *Console) watchLost(sess transport.Session, stop <-chan struct{}) {
	select {
	case err := <-sess.Lost():
		fmt.Fprintf(c.rl.Stdout(), "\n[%s] Connection lost: %v\n",
			time.Now().Format("15:04:05"), err)
		c.rl.Refresh()
	case <-stop:
	}
}

// shortID returns the first 8 characters of a connection ID.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
