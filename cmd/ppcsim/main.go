// Package main provides the entry point for PPCSim, a functional PowerPC
// Book-E instruction-set simulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/sarchlab/ppcsim/config"
	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/monitor"
	"github.com/sarchlab/ppcsim/script"
	"github.com/sarchlab/ppcsim/system"
)

const statsviewPath = "/debug/statsview"

type options struct {
	configPath string
	verbose    bool
	scriptPath string
	monitor    bool
	statsview  string
	graphPath  string
	max        uint64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, []string, error) {
	var o options

	fs := flag.NewFlagSet("ppcsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to system configuration (YAML or JSON)")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.StringVar(&o.scriptPath, "script", "", "Lua script to run before the program")
	fs.BoolVar(&o.monitor, "monitor", false, "Start the interactive monitor instead of running")
	fs.StringVar(&o.statsview, "statsview", "", "Serve runtime statistics at this address, e.g. localhost:12600")
	fs.StringVar(&o.graphPath, "graph", "", "Write a Graphviz dump of the first core here on exit")
	fs.Uint64Var(&o.max, "max", 0, "Stop each core after this many instructions")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ppcsim [options] [program.elf]\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	return o, fs.Args(), nil
}

// run is main without the process exit. It returns the exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg := config.Default()
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
	}
	if o.max > 0 {
		cfg.MaxInstructions = o.max
	}
	if o.verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if len(rest) > 0 {
		cfg.Program = rest[0]
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error in config: %v\n", err)
		return 1
	}

	if cfg.Program == "" && o.scriptPath == "" && !o.monitor {
		fmt.Fprintf(stderr, "Usage: ppcsim [options] [program.elf]\n")
		return 1
	}

	log := newLogger(cfg, stderr)

	if o.statsview != "" {
		launchStatsview(o.statsview, log)
	}

	guestIn := stdin
	if o.monitor {
		guestIn = nil
	}
	sys, err := system.Build(cfg,
		system.WithLogger(log),
		system.WithStdio(guestIn, stdout, stderr))
	if err != nil {
		fmt.Fprintf(stderr, "Error building system: %v\n", err)
		return 1
	}
	defer sys.Close()

	if cfg.Program != "" {
		if err := sys.LoadFile(cfg.Program); err != nil {
			fmt.Fprintf(stderr, "Error loading program: %v\n", err)
			return 1
		}
	}

	if o.graphPath != "" {
		defer writeGraph(sys, o.graphPath, log)
	}

	if o.scriptPath != "" {
		engine := script.New(sys,
			script.WithOutput(stdout),
			script.WithLogger(log),
			script.WithContext(ctx))
		err := engine.RunFile(o.scriptPath)
		engine.Close()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if cfg.Program == "" && !o.monitor {
			return 0
		}
	}

	if o.monitor {
		m := monitor.New(sys, stdin, stdout,
			monitor.WithInteractive(isTerminal(stdin)),
			monitor.WithLogger(log))
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	return runSystem(ctx, sys, o.verbose, stdout, stderr)
}

func runSystem(ctx context.Context, sys *system.System, verbose bool, stdout, stderr io.Writer) int {
	results, err := sys.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	exitCode := 0
	for _, r := range results {
		if r.Status == emu.StatusExited {
			exitCode = int(r.ExitCode)
			break
		}
	}

	if verbose {
		fmt.Fprintf(stdout, "\n")
		for _, r := range results {
			fmt.Fprintf(stdout, "%s: %s at 0x%X\n", r.Core, r.Status, r.PC)
		}
		fmt.Fprintf(stdout, "Exit code: %d\n", exitCode)
		fmt.Fprintf(stdout, "Instructions executed: %d\n", sys.Instructions())
	}

	return exitCode
}

func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !isTerminal(out),
	})
	level, _ := cfg.Level()
	log.SetLevel(level)
	return log
}

// launchStatsview serves runtime charts on addr in the background.
func launchStatsview(addr string, log logrus.FieldLogger) {
	go func() {
		viewer.SetConfiguration(viewer.WithAddr(addr))
		mgr := statsview.New()
		mgr.Start()
	}()

	log.WithField("url", "http://"+addr+statsviewPath).Info("stats server available")
}

func writeGraph(sys *system.System, path string, log logrus.FieldLogger) {
	f, err := os.Create(path)
	if err != nil {
		log.WithError(err).Error("cannot write graph")
		return
	}
	defer func() { _ = f.Close() }()

	sys.Cores()[0].DumpGraph(f)
}

func isTerminal(s any) bool {
	f, ok := s.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
