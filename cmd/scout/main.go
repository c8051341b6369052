// Scout is a Web3 research assistant.
//
// It answers questions about crypto projects, token sales, and funding
// rounds by reasoning over web search, CryptoPanic headlines, and fetched
// pages. The agent is served over HTTP (Warden-compatible root endpoint,
// OpenAI chat completions, and the AI SDK data stream) and can be asked a
// single question from the command line. Configuration comes from an
// optional YAML file (see [config.DefaultSearchPaths]) plus environment
// variables.
//
// Usage:
//
//	scout serve              Start the API server
//	scout init [dir]         Write an example config.yaml into dir
//	scout ask <question>     Ask a single question
//	scout search <query>     Run one web search and print the results
//	scout version            Print version and build information
//	scout -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/web3scout/scout/internal/agent"
	"github.com/web3scout/scout/internal/api"
	"github.com/web3scout/scout/internal/buildinfo"
	"github.com/web3scout/scout/internal/config"
	"github.com/web3scout/scout/internal/llm"
	"github.com/web3scout/scout/internal/mqtt"
	"github.com/web3scout/scout/internal/search"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// main constructs the OS-level environment (context, stdio, argv,
// environment) and delegates to [run], keeping os.Exit and friends out
// of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the scout command. args is
// os.Args[1:] and getenv is normally os.Getenv; tests supply their own.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
func run(ctx context.Context, stdout, stderr io.Writer, args []string, getenv func(string) string) error {
	// Arguments are parsed by hand: the flag package's globals get in the
	// way of calling run from parallel tests.
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath, getenv)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return errors.New("usage: scout ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "), getenv)
	case "search":
		if len(cmdArgs) == 0 {
			return errors.New("usage: scout search <query>")
		}
		return runSearch(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "), getenv)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s (run 'scout -h' for usage)", command)
	}
}

// runVersion prints build metadata, as text or JSON.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Scout - Web3 research assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: scout [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the API server")
	fmt.Fprintln(w, "  init [dir]       Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  ask <question>   Ask a single question")
	fmt.Fprintln(w, "  search <query>   Run one web search and print the results")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/scout/config.yaml, /etc/scout/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Required environment (depending on providers):")
	fmt.Fprintf(w, "  %s, %s, %s, %s\n", config.EnvGeminiKey, config.EnvTavilyKey, config.EnvCryptoPanicKey, config.EnvDatabaseURL)
	return nil
}

// runServe starts the API server and, when a broker is configured, the
// MQTT event forwarder. It returns when ctx is cancelled or SIGINT or
// SIGTERM arrives, after shutting the server down gracefully.
func runServe(ctx context.Context, stdout io.Writer, configPath string, getenv func(string) string) error {
	cfg, cfgPath, err := loadConfig(configPath, getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting Scout", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "config", cfgPath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, a.bus, logger)
	server.SetStoreStats(a.stats)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.MQTT.Configured() {
		fwd := mqtt.NewForwarder(cfg.MQTT, a.bus, logger)
		g.Go(func() error {
			if err := fwd.Run(gctx); err != nil {
				// The forwarder is optional; losing it must not stop the API.
				logger.Error("mqtt forwarder stopped", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Scout stopped")
	return nil
}

// runAsk answers one question, streaming tokens to stdout. With -o json
// the whole response is printed as JSON once the run completes.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, question string, getenv func(string) string) error {
	cfg, _, err := loadConfig(configPath, getenv)
	if err != nil {
		return err
	}
	// Logs go to stderr so the answer on stdout stays clean.
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var stream llm.StreamCallback
	if outputFmt == "text" {
		stream = func(ev llm.StreamEvent) {
			if ev.Kind == llm.KindToken {
				fmt.Fprint(stdout, ev.Token)
			}
		}
	}

	resp, err := a.loop.Run(ctx, &agent.Request{ThreadID: "cli", Message: question}, stream)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(stdout)
	for _, link := range resp.UnsourcedLinks {
		fmt.Fprintf(stderr, "warning: unverified link %s\n", link)
	}
	return nil
}

// runSearch runs a single query against the configured search provider.
// It is a quick way to check provider credentials without the model.
func runSearch(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, query string, getenv func(string) string) error {
	cfg, _, err := loadConfig(configPath, getenv)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}

	mgr := newSearchManager(cfg, newHTTPClient(cfg, logger), logger)
	results, err := mgr.Search(ctx, query, search.Options{Count: mgr.DefaultCount()})
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	fmt.Fprintln(stdout, search.FormatResults(results))
	return nil
}

// newLogger builds the process logger from the config's level and format.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, cfg.LogFormat), nil
}

// loadConfig finds and loads the config file (if any), overlays the
// environment, and validates the result. It returns the path the
// configuration came from, empty when no file was found.
func loadConfig(explicit string, getenv func(string) string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg := config.Default()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
	}
	cfg.ApplyEnv(getenv)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}
