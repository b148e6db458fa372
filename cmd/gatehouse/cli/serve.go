package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatehousehq/gatehouse/internal/server"
	"github.com/gatehousehq/gatehouse/internal/service"
)

const banner = `
  ___   _ _____ ___ _  _  ___  _   _ ___ ___
 / __| /_\_   _| __| || |/ _ \| | | / __| __|
| (_ |/ _ \| | | _|| __ | (_) | |_| \__ \ _|
 \___/_/ \_\_| |___|_||_|\___/ \___/|___/___|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gatehouse API gateway",
		Long:  "Start the HTTP gateway that authenticates API keys and enforces per-workspace rate limits in front of the agent API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return startDaemon()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "Run in the background, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(dev)

	// 1. Open the state store (SQLite by default, Postgres when configured)
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()
	logger.Info("state store opened", "driver", viper.GetString("store.driver"))

	// 2. Initialize auth service
	authSvc := service.NewAuthService(st, jwtSecret())

	// 3. Warn on first run (no admin exists yet)
	admins, err := st.ListAdmins(cmd_ctx())
	if err != nil {
		logger.Warn("failed to check for admins", "error", err)
	}
	if len(admins) == 0 {
		logger.Warn("no admin account found - run: gatehouse admin create")
	}

	// 4. Build and start the HTTP gateway
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rpm := viper.GetInt("auth.login_rpm"); rpm > 0 {
		srvCfg.LoginRPM = rpm
	}
	srvCfg.FailOpen = viper.GetBool("rate_limit.fail_open")
	if interval := viper.GetDuration("rate_limit.janitor_interval"); interval > 0 {
		srvCfg.JanitorInterval = interval
	}

	srv := server.New(srvCfg, st, authSvc, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Gatehouse %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Public API: http://%s:%d/api/v1\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

// startDaemon re-executes the current binary detached from the terminal,
// with stdout/stderr redirected to the log file.
func startDaemon() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server is already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	// Re-run "serve" without --daemon, preserving the other flags via env.
	args := []string{"serve"}
	for _, a := range os.Args[1:] {
		if a == "--daemon" || a == "serve" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Printf("Gatehouse server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Use 'gatehouse status' to check health and 'gatehouse stop' to stop it.")

	// Give the child a moment to fail fast on startup errors.
	time.Sleep(300 * time.Millisecond)
	if !isProcessRunning(child.Process.Pid) {
		return fmt.Errorf("server exited immediately; check %s", logFilePath())
	}
	return nil
}

// cmd_ctx returns a background context for CLI initialization.
func cmd_ctx() context.Context {
	return context.Background()
}
