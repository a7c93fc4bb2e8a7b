// Aura is a WhatsApp emotional-support companion.
//
// It receives messages through a webhook, runs each one through the
// conversation engine (session state, directive side effects, message
// segmentation), and sweeps for idle users and abandoned sessions in
// the background. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	aura serve               Start the webhook server and sweeper
//	aura sweep [selector]    Run one sweep round and exit
//	aura ask <message>       Process a single message (for testing)
//	aura version             Print version and build information
//	aura -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/auralabs/aura-agent/internal/buildinfo"
	"github.com/auralabs/aura-agent/internal/checkout"
	"github.com/auralabs/aura-agent/internal/clock"
	"github.com/auralabs/aura-agent/internal/config"
	"github.com/auralabs/aura-agent/internal/directive"
	"github.com/auralabs/aura-agent/internal/engine"
	"github.com/auralabs/aura-agent/internal/followup"
	"github.com/auralabs/aura-agent/internal/llm"
	"github.com/auralabs/aura-agent/internal/segment"
	"github.com/auralabs/aura-agent/internal/session"
	"github.com/auralabs/aura-agent/internal/store"
	"github.com/auralabs/aura-agent/internal/summarizer"
	"github.com/auralabs/aura-agent/internal/tts"
	"github.com/auralabs/aura-agent/internal/web"
	"github.com/auralabs/aura-agent/internal/whatsapp"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the aura command. All OS-level
// dependencies are injected as parameters so tests can drive the whole
// lifecycle. Arguments are parsed by hand: the flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests, and the argument surface is
// small enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	// Secrets come from the environment; config values reference them
	// as ${VAR}. A .env file is a development convenience, so a missing
	// one is not an error.
	_ = godotenv.Load()

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "sweep":
		return runSweep(ctx, stdout, configPath, cmdArgs)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: aura ask <message>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// aura is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Aura - WhatsApp Emotional Support Companion")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: aura [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the webhook server and background sweeper")
	fmt.Fprintln(w, "  sweep        Run one sweep round and exit; optional selector:")
	fmt.Fprintln(w, "               followups, sessions or renewals (default: all three)")
	fmt.Fprintln(w, "  ask          Process a single message (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runAsk handles the "aura ask <message>" subcommand. It boots the
// engine without a WhatsApp sender and processes a single message as
// the CLI test user, printing the reply bubbles to stdout. Useful for
// quick smoke tests and prompt tuning without exposing a webhook.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}
	defer st.Close()

	// No sender: replies are printed, not delivered, and delivery
	// pacing is skipped entirely.
	eng, _, err := buildEngine(cfg, st, nil, logger)
	if err != nil {
		return err
	}

	res, err := eng.HandleTurn(ctx, engine.TurnRequest{
		Phone: "cli-test",
		Text:  strings.Join(args, " "),
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	for _, u := range res.Units {
		if u.IsAudio {
			fmt.Fprintf(stdout, "[audio] %s\n", u.Content)
			continue
		}
		fmt.Fprintln(stdout, u.Content)
	}
	return nil
}

// runSweep handles the "aura sweep" subcommand: a single sweep round,
// then exit. Intended for cron-style setups and for poking the sweeper
// by hand while debugging. An optional selector argument limits the
// round to one of the three sweeps; no argument runs all of them.
func runSweep(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	selector := ""
	if len(args) > 0 {
		selector = args[0]
	}
	switch selector {
	case "", "followups", "sessions", "renewals":
	default:
		return fmt.Errorf("usage: aura sweep [followups|sessions|renewals]")
	}

	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}
	defer st.Close()

	ck := clock.New(cfg.Timezone, cfg.Session.Phases)
	llmClient := llm.NewOpenAIClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, logger)
	sender := whatsapp.NewClient(cfg.WhatsApp, logger)

	sweeper := followup.NewSweeper(st, ck, llmClient, sender, cfg, logger)
	now := ck.Now()

	var nudges, abandoned, renewed int
	if selector == "" || selector == "followups" {
		if nudges, err = sweeper.SweepFollowups(ctx, now); err != nil {
			return fmt.Errorf("followup sweep: %w", err)
		}
	}
	if selector == "" || selector == "sessions" {
		if abandoned, err = sweeper.SweepAbandonedSessions(ctx, now); err != nil {
			return fmt.Errorf("abandonment sweep: %w", err)
		}
	}
	if selector == "" || selector == "renewals" {
		if renewed, err = sweeper.RenewMonthlySchedules(ctx, now); err != nil {
			return fmt.Errorf("renewal sweep: %w", err)
		}
	}

	fmt.Fprintf(stdout, "sweep complete: %d nudges, %d abandoned, %d renewed\n", nudges, abandoned, renewed)
	return nil
}

// runServe handles the "aura serve" subcommand. It is the primary
// operating mode: loads config, opens the database, wires the engine,
// starts the webhook server and the background sweeper, and blocks
// until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The sweeper worker drains its in-flight round
//  3. The HTTP server drains in-flight requests
//  4. The database connection is closed via defer
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Aura", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and the config load message.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Load, so this error path
			// should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"addr", cfg.Listen.Addr(),
		"model", cfg.Generation.Model,
		"timezone", cfg.Timezone.Name,
	)

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	var sender whatsapp.Sender
	if cfg.WhatsApp.Token != "" {
		sender = whatsapp.NewClient(cfg.WhatsApp, logger)
	} else {
		logger.Warn("WhatsApp not configured - replies will not be delivered")
	}

	eng, sweeper, err := buildEngine(cfg, st, sender, logger)
	if err != nil {
		return err
	}

	// Signal handling: first SIGINT/SIGTERM starts a graceful shutdown,
	// a second one kills the process the usual way.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker := followup.NewWorker(sweeper, logger, followup.WorkerConfig{})
	worker.Start(ctx)
	defer worker.Stop()

	server := web.NewServer(eng, cfg, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Aura stopped")
	return nil
}

// buildEngine wires the conversation engine and the background sweeper
// from a loaded config and an open store. The sender may be nil, in
// which case replies are produced but not delivered (the ask command
// and tests run this way).
func buildEngine(cfg *config.Config, st *store.Store, sender whatsapp.Sender, logger *slog.Logger) (*engine.Engine, *followup.Sweeper, error) {
	ck := clock.New(cfg.Timezone, cfg.Session.Phases)
	llmClient := llm.NewOpenAIClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, logger)

	summaryModel := cfg.Generation.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Generation.Model
	}
	sum := summarizer.New(llmClient, summaryModel, logger)

	var synth tts.Synthesizer
	if cfg.TTS.Enabled {
		synth = tts.New(cfg.TTS.BaseURL, cfg.TTS.APIKey, cfg.TTS.VoiceID, logger)
		logger.Info("TTS enabled", "voice", cfg.TTS.VoiceID)
	}

	var link checkout.LinkCreator
	if cfg.Checkout.BaseURL != "" {
		link = checkout.New(cfg.Checkout, logger)
	}

	var guided directive.GuidedSender
	if synth != nil && sender != nil {
		guided = &guidedAudioSender{synth: synth, sender: sender}
	}

	resolver := session.NewResolver(st, ck, nil, sum, cfg.Session, logger)
	processor := directive.NewProcessor(st, ck, link, guided, cfg.Session, logger)
	segmenter := segment.New(cfg.Segmenter, nil)

	eng := engine.New(st, ck, llmClient, synth, sender, resolver, processor, segmenter, cfg, logger)
	sweeper := followup.NewSweeper(st, ck, llmClient, sender, cfg, logger)
	return eng, sweeper, nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// guidedAudioSender synthesizes a guided exercise script on demand and
// delivers it as a voice note. Scripts are fixed per category so the
// audio is consistent between sessions; synthesis output could be
// cached, but the catalogue is small and requests are rare.
type guidedAudioSender struct {
	synth  tts.Synthesizer
	sender whatsapp.Sender
}

// guidedScripts maps each guided-audio category to its spoken script.
// Keys must match the categories the directive grammar accepts.
var guidedScripts = map[string]string{
	"respiracao":  "Vamos respirar juntos. Inspire profundamente pelo nariz contando até quatro... segure o ar por quatro segundos... e solte bem devagar pela boca contando até seis. Vamos repetir mais algumas vezes, no seu ritmo.",
	"relaxamento": "Encontre uma posição confortável. Comece soltando os ombros... relaxe a mandíbula... e deixe os braços ficarem pesados. A cada respiração, sinta o corpo afundar um pouquinho mais.",
	"sono":        "Feche os olhos e deixe o dia ir embora. Respire devagar... cada expiração te deixa mais leve. Não precisa dormir agora, só descansar. O sono vem quando estiver pronto.",
	"ansiedade":   "Eu sei que agora parece muito. Coloque uma mão no peito e sinta sua respiração. Nomeie cinco coisas que você consegue ver... quatro que consegue tocar... três que consegue ouvir. Você está aqui, e está tudo bem ir devagar.",
	"gratidao":    "Pense em uma coisa boa de hoje, por menor que seja. Pode ser um café quente, uma mensagem, um momento de silêncio. Segure essa lembrança por um instante e agradeça a si por ter chegado até aqui.",
}

func (g *guidedAudioSender) SendGuidedAudio(ctx context.Context, phone, category string) error {
	script, ok := guidedScripts[category]
	if !ok {
		return fmt.Errorf("unknown guided audio category: %s", category)
	}
	audio, err := g.synth.Synthesize(ctx, script)
	if err != nil {
		return fmt.Errorf("synthesize guided audio: %w", err)
	}
	return g.sender.SendAudio(ctx, phone, audio)
}
