// Command piiscan runs the detection pipeline over files or stdin and prints
// one JSON report per input, optionally with the redacted text. The policy
// comes from a file, from a running piiguard bridge, or the defaults.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/antoniostano/piiguard/internal/allowlist"
	"github.com/antoniostano/piiguard/internal/bridge"
	"github.com/antoniostano/piiguard/internal/detect"
	"github.com/antoniostano/piiguard/internal/interceptor"
	"github.com/antoniostano/piiguard/internal/logging"
	"github.com/antoniostano/piiguard/internal/pii"
	"github.com/antoniostano/piiguard/internal/policy"
	"github.com/antoniostano/piiguard/internal/token"
)

type options struct {
	remoteURL     string
	remoteTimeout time.Duration
	policyFile    string
	bridgeURL     string
	bridgeWait    time.Duration
	heuristics    bool
	redact        bool
	pretty        bool
	verbose       bool
	inputs        []string
}

type report struct {
	Source     string            `json:"source"`
	Entities   []pii.Entity      `json:"entities"`
	Candidates []pii.Candidate   `json:"candidates"`
	Redacted   string            `json:"redacted,omitempty"`
	Redactions []token.Redaction `json:"redactions,omitempty"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "piiscan: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "piiscan: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var timeoutMS int
	var bridgeWaitMS int

	fs := flag.NewFlagSet("piiscan", flag.ContinueOnError)
	fs.StringVar(&cfg.remoteURL, "remote-url", "", "remote detector URL; local matcher is used as fallback")
	fs.IntVar(&timeoutMS, "remote-timeout-ms", 3000, "remote detector timeout in milliseconds")
	fs.StringVar(&cfg.policyFile, "policy", "", "policy file (json, toml or yaml) limiting redactable kinds")
	fs.StringVar(&cfg.bridgeURL, "bridge-url", "", "bridge websocket (ws://host/v1/bridge/ws) to read the live policy and allowlist from")
	fs.IntVar(&bridgeWaitMS, "bridge-wait-ms", 3000, "how long to wait for the bridge policy marker in milliseconds")
	fs.BoolVar(&cfg.heuristics, "heuristics", true, "enable the loose ADDRESS and NAME matchers")
	fs.BoolVar(&cfg.redact, "redact", false, "replace every redactable candidate with a token")
	fs.BoolVar(&cfg.pretty, "pretty", false, "indent JSON output")
	fs.BoolVar(&cfg.verbose, "verbose", false, "log detector fallbacks to stderr")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.remoteURL = strings.TrimSpace(cfg.remoteURL)
	if timeoutMS < 100 {
		timeoutMS = 100
	}
	cfg.remoteTimeout = time.Duration(timeoutMS) * time.Millisecond
	cfg.bridgeURL = strings.TrimSpace(cfg.bridgeURL)
	if cfg.bridgeURL != "" && cfg.policyFile != "" {
		return options{}, fmt.Errorf("-policy and -bridge-url are mutually exclusive")
	}
	if bridgeWaitMS < 100 {
		bridgeWaitMS = 100
	}
	cfg.bridgeWait = time.Duration(bridgeWaitMS) * time.Millisecond
	cfg.inputs = fs.Args()
	return cfg, nil
}

// scanner carries what every input is checked against.
type scanner struct {
	detector detect.Detector
	policy   policy.Policy
	allow    *allowlist.List
	redact   bool
}

func run(ctx context.Context, cfg options, stdin io.Reader, stdout io.Writer) error {
	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, level, logging.FormatText)

	p := policy.Default()
	allow := allowlist.New()
	switch {
	case cfg.policyFile != "":
		loaded, err := policy.LoadFile(cfg.policyFile)
		if err != nil {
			return err
		}
		p = loaded
	case cfg.bridgeURL != "":
		var err error
		if p, allow, err = loadFromBridge(ctx, cfg.bridgeURL, cfg.bridgeWait, logger); err != nil {
			return err
		}
	}
	resolver := detect.NewResolver(detect.Options{Heuristics: cfg.heuristics}, cfg.remoteTimeout, logger, detect.Hooks{})
	sc := scanner{
		detector: resolver.For(cfg.remoteURL != "", cfg.remoteURL),
		policy:   p,
		allow:    allow,
		redact:   cfg.redact,
	}

	enc := json.NewEncoder(stdout)
	if cfg.pretty {
		enc.SetIndent("", "  ")
	}

	if len(cfg.inputs) == 0 {
		text, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return sc.emit(ctx, enc, "-", string(text))
	}
	for _, path := range cfg.inputs {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := sc.emit(ctx, enc, path, string(text)); err != nil {
			return err
		}
	}
	return nil
}

// loadFromBridge mirrors the server's markers until the policy arrives. The
// server sends the allowlist marker first, so it is current by then.
func loadFromBridge(ctx context.Context, url string, wait time.Duration, logger *slog.Logger) (policy.Policy, *allowlist.List, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := bridge.NewClient(url, logger.With("component", "bridge_client"))
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for client.Current(bridge.PolicyTopic).Version == 0 {
		select {
		case err := <-runErr:
			return policy.Policy{}, nil, fmt.Errorf("bridge %s: %w", url, err)
		case <-deadline.C:
			return policy.Policy{}, nil, fmt.Errorf("bridge %s: no policy received within %s", url, wait)
		case <-tick.C:
		}
	}

	p := interceptor.PolicyFromMarker(client.Current(bridge.PolicyTopic), logger)
	allow := allowlist.New()
	if m := client.Current(bridge.AllowlistTopic); m.Version > 0 {
		values, err := allowlist.Decode(m.Payload)
		if err != nil {
			logger.Warn("bridge allowlist is malformed, ignoring it", "error", err)
		} else {
			allow.Replace(values)
		}
	}
	return p, allow, nil
}

func (sc scanner) emit(ctx context.Context, enc *json.Encoder, source, text string) error {
	rep, err := sc.scan(ctx, source, text)
	if err != nil {
		return err
	}
	return enc.Encode(rep)
}

func (sc scanner) scan(ctx context.Context, source, text string) (report, error) {
	rep := report{Source: source, Entities: []pii.Entity{}, Candidates: []pii.Candidate{}}
	if pii.IsBlank(text) {
		return rep, nil
	}
	entities, err := sc.detector.Detect(ctx, text)
	if err != nil {
		return report{}, fmt.Errorf("detect %s: %w", source, err)
	}
	rep.Entities = entities
	rep.Candidates = sc.allow.Filter(policy.Redactable(sc.policy, pii.Classify(entities)))
	if !sc.redact || len(rep.Candidates) == 0 {
		return rep, nil
	}
	out, redactions, err := token.NewEngine().Apply(text, rep.Candidates, false)
	if err != nil {
		return report{}, fmt.Errorf("redact %s: %w", source, err)
	}
	rep.Redacted = out
	rep.Redactions = redactions
	return rep, nil
}
