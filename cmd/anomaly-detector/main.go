package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/anomaly-detector/internal/batch"
	"github.com/ironsheep/anomaly-detector/internal/config"
	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/imaging"
	"github.com/ironsheep/anomaly-detector/internal/ledger"
	"github.com/ironsheep/anomaly-detector/internal/logging"
	"github.com/ironsheep/anomaly-detector/internal/models"
	"github.com/ironsheep/anomaly-detector/internal/pipeline"
	"github.com/ironsheep/anomaly-detector/internal/rules"
	"github.com/ironsheep/anomaly-detector/internal/server"
	"github.com/ironsheep/anomaly-detector/internal/session"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func usage() {
	fmt.Println("anomaly-detector - image anomaly detection with advisory comments")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  anomaly-detector [serve]                          Run the MCP server on stdin/stdout")
	fmt.Println("  anomaly-detector run [-models a,b] image...       Process images in a new session")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Environment variables (also read from ./.env):")
	fmt.Println("  DETECTOR_SESSIONS_DIR   Root of session directories (default ./sessions)")
	fmt.Println("  DETECTOR_RULES_FILE     Comment rules YAML (default comment_rules.yaml)")
	fmt.Println("  DETECTOR_MODELS_FILE    Model manifest YAML (default models.yaml)")
	fmt.Println("  DETECTOR_FONT_FILE      Label font (default arial.ttf)")
	fmt.Println("  DETECTOR_FONT_SIZE      Label font size in pixels (default 20)")
	fmt.Println("  DETECTOR_BOX_COLOR      Box colour of the first model (default #FF0000)")
	fmt.Println("  DETECTOR_LOG_LEVEL      trace, debug, info, warn or error")
	fmt.Println("  DETECTOR_LOG_DIR        Directory for rotated log files (empty disables)")
}

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "--version", "-v", "version":
			fmt.Printf("anomaly-detector %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		case "serve", "run":
			cmd = args[0]
			args = args[1:]
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			usage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// stdout is reserved for the MCP protocol and run output.
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Dir: cfg.LogDir, Output: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{"version": Version, "commit": GitCommit}).Debug("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		log.WithField(logging.FieldError, err.Error()).Fatal("startup failed")
	}
	defer a.close()

	switch cmd {
	case "run":
		err = a.run(ctx, args)
	default:
		err = a.serve(ctx)
	}
	if err != nil {
		a.close()
		log.WithField(logging.FieldError, err.Error()).Fatal("exiting")
	}
}

type app struct {
	log      *logrus.Logger
	registry *models.Registry
	sessions *session.Manager
	rules    *rules.RuleSet
	ledger   *ledger.Ledger
	orch     *pipeline.Orchestrator
	runner   *batch.Runner
}

// newApp loads rules and models and wires the pipeline. Missing rules or
// models are logged and the app still starts.
func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	rs, err := rules.Load(cfg.RulesFile)
	if err != nil {
		log.WithField(logging.FieldError, err.Error()).Warn("comment rules not loaded")
	} else {
		log.WithField("rules", rs.Len()).Info("comment rules loaded")
	}

	reg, err := models.Load(cfg.ModelsFile, models.WithLogger(log))
	if err != nil {
		log.WithField(logging.FieldError, err.Error()).Warn("some models not loaded")
	}
	if len(reg.Models) == 0 {
		log.Warn("no models loaded")
	}

	ann, err := imaging.New(imaging.Options{
		FontFile: cfg.FontFile,
		FontSize: cfg.FontSize,
		BoxColor: cfg.BoxColor,
		Models:   reg.Models.Names(),
		Logger:   log,
	})
	if err != nil {
		reg.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionsDir)
	if err := sessions.EnsureBaseDirs(); err != nil {
		reg.Close()
		return nil, err
	}

	led := ledger.New(ledger.WithLogger(log))
	orch := pipeline.New(rs, ann, led,
		pipeline.WithDefaultModels(reg.Models),
		pipeline.WithLogger(log),
	)

	return &app{
		log:      log,
		registry: reg,
		sessions: sessions,
		rules:    rs,
		ledger:   led,
		orch:     orch,
		runner:   batch.NewRunner(sessions, orch, batch.WithLogger(log)),
	}, nil
}

func (a *app) close() {
	if a.registry == nil {
		return
	}
	if err := a.registry.Close(); err != nil {
		a.log.WithField(logging.FieldError, err.Error()).Warn("failed to release models")
	}
	a.registry = nil
}

func (a *app) serve(ctx context.Context) error {
	srv := server.New(server.Deps{
		Sessions:     a.sessions,
		Orchestrator: a.orch,
		Runner:       a.runner,
		Rules:        a.rules,
		Ledger:       a.ledger,
		Models:       a.registry.Models,
		Logger:       a.log,
		Version:      Version,
	})
	return srv.Run(ctx)
}

// run processes the images given on the command line and prints the batch
// summary as JSON.
func (a *app) run(ctx context.Context, args []string) error {
	var names []string
	var files []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-models" || args[i] == "--models":
			if i+1 >= len(args) {
				return fmt.Errorf("%s needs a value", args[i])
			}
			i++
			names = splitList(args[i])
		case strings.HasPrefix(args[i], "-models=") || strings.HasPrefix(args[i], "--models="):
			names = splitList(args[i][strings.Index(args[i], "=")+1:])
		default:
			files = append(files, args[i])
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("run needs at least one image")
	}

	var selected detection.ModelSet
	if len(names) > 0 {
		var err error
		if selected, err = a.registry.Models.Select(names...); err != nil {
			return err
		}
	}

	sum, err := a.runner.Run(ctx, files, selected, func(ev batch.Event) {
		if ev.Kind != batch.ImageDone {
			return
		}
		fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s\n", ev.Index+1, ev.Total, ev.Source, strings.Join(ev.Result.Comments, "; "))
	})
	if err != nil {
		return err
	}

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
