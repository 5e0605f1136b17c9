// Command designcheck compares Storybook renders of blocks against their
// design references and writes pixel-diff reports.
//
// Usage:
//
//	designcheck --block=cards                       # every story declaring a design URL
//	designcheck --block=cards --story=WithImage     # one story
//	designcheck --block=hero --node-id=8668:498     # explicit design node
//	designcheck discover --filter=Cards             # list design components
//	designcheck reference --block=hero --node-id=8668:498
//	designcheck inspect --node-id=9392:122              # variant ids of a component set
//	designcheck history --limit=10
//	designcheck history --key=cards-with-image        # one element across runs
//	designcheck serve --addr=:7070
//	designcheck mcp                                 # MCP server on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/designcheck/capture"
	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/dbopen"
	"github.com/hazyhaar/designcheck/figma"
	"github.com/hazyhaar/designcheck/history"
	"github.com/hazyhaar/designcheck/kit"
	"github.com/hazyhaar/designcheck/notify"
	"github.com/hazyhaar/designcheck/pipeline"
)

var version = "dev"

// errMismatch makes --fail-on-mismatch exit non-zero without logging a failure.
var errMismatch = errors.New("designcheck: not every element passed")

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

type compareFlags struct {
	blocks         []string
	story          string
	nodeID         string
	fileID         string
	iteration      int
	noOpen         bool
	jsonOut        bool
	failOnMismatch bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errMismatch) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	f := &compareFlags{}

	root := &cobra.Command{
		Use:   "designcheck --block=<name>[,<name>...]",
		Short: "Validate block implementations against their design references",
		Long: `designcheck renders each block story in a headless browser, fetches the
matching design node as PNG, compares both pixel by pixel and writes an HTML
report per element into .validation-screenshots/. An element passes when
less than 0.1% of the compared pixels differ.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(f.blocks) == 0 {
				_ = cmd.Usage()
				return errors.New("--block is required")
			}
			return runCompare(cmd.Context(), g, f)
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default designcheck.yaml if present)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")

	root.Flags().StringSliceVar(&f.blocks, "block", nil, "block name(s), comma separated")
	root.Flags().StringVar(&f.story, "story", "", "story (variant) name")
	root.Flags().StringVar(&f.nodeID, "node-id", "", "explicit design node id, e.g. 8668:498")
	root.Flags().StringVar(&f.fileID, "file-id", "", "design file id (default from config or figma-urls.json)")
	root.Flags().IntVar(&f.iteration, "iteration", 1, "iteration number used in output file names")
	root.Flags().BoolVar(&f.noOpen, "no-open", false, "do not open reports in the default viewer")
	root.Flags().BoolVar(&f.jsonOut, "json", false, "print the run summary as JSON on stdout")
	root.Flags().BoolVar(&f.failOnMismatch, "fail-on-mismatch", false, "exit 1 unless every element passed")

	root.AddCommand(
		newDiscoverCmd(g),
		newReferenceCmd(g),
		newInspectCmd(g),
		newHistoryCmd(g),
		newServeCmd(g),
		newMCPCmd(g),
	)
	return root
}

func newLogger(g *globalFlags) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(g.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if g.logFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(kit.NewContextHandler(h))
	slog.SetDefault(logger)
	return logger
}

// app holds the wired components of one invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	figma   *figma.Client
	browser *capture.Manager
	store   *history.Store
	sinks   *notify.Router
	out     io.Writer // tallies; stderr when stdout carries a protocol
}

func newApp(g *globalFlags) (*app, error) {
	logger := newLogger(g)
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
		figma: figma.New(cfg.Figma.Token,
			figma.WithBaseURL(cfg.Figma.APIBase),
			figma.WithTimeout(cfg.Figma.Timeout),
			figma.WithLogger(logger)),
	}, nil
}

// openHistory opens the run history unless disabled.
func (a *app) openHistory() error {
	if a.cfg.History.Disabled || a.store != nil {
		return nil
	}
	store, err := history.Open(a.cfg.HistoryPath(),
		dbopen.WithBusyTimeout(int(a.cfg.History.BusyTimeout.Milliseconds())))
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// historyReader avoids handing out a typed nil when history is disabled.
func (a *app) historyReader() pipeline.HistoryReader {
	if a.store == nil {
		return nil
	}
	return a.store
}

// openSinks follows a.out so a stdout sink never interleaves with --json
// output or the MCP protocol.
func (a *app) openSinks() error {
	sinks, err := notify.FromConfig(a.cfg.Sinks, a.out, a.logger)
	if err != nil {
		return err
	}
	a.sinks = sinks
	return nil
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := a.openHistory(); err != nil {
		return nil, err
	}
	if err := a.openSinks(); err != nil {
		return nil, err
	}

	a.browser = capture.NewManager(capture.Config{
		RemoteURL:        a.cfg.Browser.Remote,
		Bin:              a.cfg.Browser.Bin,
		NoSandbox:        a.cfg.Browser.NoSandbox,
		Stealth:          a.cfg.Browser.Stealth,
		ResourceBlocking: a.cfg.Browser.ResourceBlocking,
		Logger:           a.logger,
	})
	capturer := capture.New(a.browser, capture.Options{
		NavTimeout:  a.cfg.Browser.NavTimeout,
		SettleDelay: a.cfg.Browser.SettleDelay,
		StyleDelay:  a.cfg.Browser.StyleDelay,
	})

	opts := []pipeline.Option{
		pipeline.WithReferenceSource(a.figma),
		pipeline.WithRenderer(capturer),
		pipeline.WithOutput(a.out),
		pipeline.WithLogger(a.logger),
	}
	if a.store != nil {
		opts = append(opts, pipeline.WithRecorder(a.store))
	}
	if a.sinks != nil {
		opts = append(opts, pipeline.WithNotifier(a.sinks))
	}
	return pipeline.New(a.cfg, opts...)
}

func (a *app) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("designcheck: close browser", "error", err)
		}
	}
	if a.sinks != nil {
		a.sinks.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func runCompare(ctx context.Context, g *globalFlags, f *compareFlags) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	if f.jsonOut {
		a.out = os.Stderr
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	sum, err := p.Run(ctx, pipeline.Request{
		Blocks:    f.blocks,
		Story:     f.story,
		NodeID:    f.nodeID,
		FileID:    f.fileID,
		Iteration: f.iteration,
		NoOpen:    f.noOpen,
	})
	if err != nil {
		var rerr *pipeline.ResolutionError
		if errors.As(err, &rerr) {
			fmt.Fprintln(os.Stderr, resolutionHelp(rerr))
		}
		return err
	}

	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	}
	if f.failOnMismatch && !sum.AllPassed() {
		return errMismatch
	}
	return nil
}

func resolutionHelp(e *pipeline.ResolutionError) string {
	return fmt.Sprintf(`Could not find a design node for block %q. Options:
  1. Add the design URL to blocks/%[1]s/%[1]s.stories.js:
       parameters: { design: { type: 'figma', url: 'https://...' } }
  2. Run: designcheck discover --filter=%[1]s
  3. Pass it explicitly: --node-id=XXXX:YYYY`, e.Block)
}
