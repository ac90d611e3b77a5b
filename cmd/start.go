package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/magicjsdev/ark/internal/compiler"
	"github.com/magicjsdev/ark/internal/config"
	"github.com/magicjsdev/ark/internal/devserver"
	"github.com/magicjsdev/ark/internal/doctor"
	"github.com/magicjsdev/ark/internal/ports"
	"github.com/magicjsdev/ark/internal/ui"
)

// startCmd runs the dev server
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the dev server with live reload",
	Long: `The start command compiles the frontend and backend bundles in watch
mode, runs the backend as the app server and serves both behind the dev
gateway. Requests are held while the app server restarts, compile errors
are shown in the browser, and connected pages reload after each rebuild.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.IntP("port", "p", 0, "Dev server port (default from "+config.FileName+")")
	f.Int("app-port", 0, "App server port (default from "+config.FileName+")")
	f.String("runtime-url", "", "MagicJS runtime to report compiler status to")
	f.String("restart-policy", "", "When to restart the app server: always, no-errors or strict")
	f.Bool("no-tui", false, "Print plain status lines instead of the dashboard")
	f.Bool("no-port-shift", false, "Fail instead of moving to the next free port")
	f.Bool("skip-doctor", false, "Skip the environment checks")
	f.Bool("watch-env", true, "Restart the app server when an env file changes")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetInt("port"); v != 0 {
		cfg.DevServer.Port = v
	}
	if v, _ := flags.GetInt("app-port"); v != 0 {
		cfg.DevServer.AppPort = v
	}
	if v, _ := flags.GetString("runtime-url"); v != "" {
		cfg.DevServer.RuntimeURL = v
	}
	if v, _ := flags.GetString("restart-policy"); v != "" {
		cfg.DevServer.RestartPolicy = config.RestartPolicy(v)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if skip, _ := flags.GetBool("skip-doctor"); !skip {
		if err := preflight(cfg); err != nil {
			return err
		}
	}

	noShift, _ := flags.GetBool("no-port-shift")
	devPort, err := resolvePort("dev server", cfg.DevServer.Port, !noShift)
	if err != nil {
		return err
	}
	appPort, err := resolvePort("app server", cfg.DevServer.AppPort, !noShift)
	if err != nil {
		return err
	}
	if devPort == appPort {
		return fmt.Errorf("dev server and app server cannot share port %d", devPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchEnv, _ := flags.GetBool("watch-env")
	opts := devserver.Options{
		Mode:     compiler.Development,
		AppPort:  appPort,
		DevPort:  devPort,
		WatchEnv: watchEnv,
	}

	noTUI, _ := flags.GetBool("no-tui")
	if noTUI || !term.IsTerminal(int(os.Stdout.Fd())) {
		orch, err := devserver.New(cfg, opts, devserver.Deps{
			Printer:   ui.NewStatusPrinter(os.Stdout),
			AppOutput: os.Stdout,
		}, logger)
		if err != nil {
			return err
		}
		ui.Highlight("Dev server", fmt.Sprintf("http://localhost:%d", devPort))
		return orch.Run(ctx)
	}

	var orch *devserver.Orchestrator
	runner := ui.NewDashboardRunner(ui.DashboardOptions{
		Title: fmt.Sprintf("%s · http://localhost:%d", cfg.Name, devPort),
		AppPID: func() int32 {
			if orch != nil {
				return int32(orch.AppPID())
			}
			return 0
		},
		OnRestart: func() {
			if orch != nil {
				orch.RequestRestart()
			}
		},
		OnQuit: cancel,
	})

	// The dashboard owns the terminal, so logs go to its log pane.
	dashLogger := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(runner.Writer(ui.SourceArk)),
		logLevel,
	))
	defer dashLogger.Sync()

	orch, err = devserver.New(cfg, opts, devserver.Deps{
		Printer:   runner,
		AppOutput: runner.Writer(ui.SourceApp),
	}, dashLogger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return orch.Run(gctx)
	})
	return g.Wait()
}

// preflight runs the doctor and fails on blocking issues.
func preflight(cfg config.Config) error {
	d := doctor.Diagnose(cfg)
	for _, w := range d.Warnings {
		ui.Warn(w)
	}
	if d.Healthy {
		return nil
	}
	for _, issue := range d.Issues {
		ui.Error(issue)
	}
	return fmt.Errorf("environment check failed (%s); run 'ark doctor' for details or pass --skip-doctor",
		strings.Join(d.Issues, "; "))
}

func resolvePort(name string, port int, shift bool) (int, error) {
	resolved, shifted, err := ports.Resolve(port, shift)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if shifted {
		ui.Warn(fmt.Sprintf("%s port %d is busy, using %d", name, port, resolved))
	}
	return resolved, nil
}
