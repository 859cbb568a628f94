package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/archive"
	"github.com/raaihank/moltkeeper/internal/config"
	"github.com/raaihank/moltkeeper/internal/server"
	"github.com/raaihank/moltkeeper/internal/session"
	"github.com/raaihank/moltkeeper/internal/vault"
	"github.com/raaihank/moltkeeper/internal/websocket"
)

var (
	commit = "dev"
	date   = "unknown"
)

const defaultConfigPath = "config/default.yaml"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "scan":
		err = runScan(args)
	case "sanitize":
		err = runSanitize(args)
	case "rehydrate":
		err = runRehydrate(args)
	case "serve":
		err = runServe(args)
	case "export":
		err = runExport(args)
	case "version", "-version", "--version":
		fmt.Printf("MoltKeeper %s (commit: %s, built: %s)\n", server.Version, commit, date)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  scan <xml> [-o policy.json]             Detect a policy for an XML file\n")
	fmt.Fprintf(os.Stderr, "  sanitize <xml> [-policy p] [-session s] Mask, shuffle and shadow an XML file\n")
	fmt.Fprintf(os.Stderr, "  rehydrate <file> [-vault v] [-o out] [-i]  Restore original values\n")
	fmt.Fprintf(os.Stderr, "  serve                                   Start the tool server\n")
	fmt.Fprintf(os.Stderr, "  export (-vault v | -session s) -o out.parquet  Archive a vault\n")
	fmt.Fprintf(os.Stderr, "  version                                 Show version information\n")
	fmt.Fprintf(os.Stderr, "\nEvery command accepts -config (default %s).\n", defaultConfigPath)
}

// parseArgs parses flags that may appear before or after positional
// arguments and returns the positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	output := fs.String("o", "", "Output path for the generated policy (default: the configured default policy)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errors.New("scan needs exactly one XML file")
	}

	app, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer app.close()

	svc := session.New(app.config, app.catalog, app.logger)
	p, path, err := svc.Scan(context.Background(), pos[0], *output)
	if err != nil {
		return err
	}

	fmt.Printf("Policy generated: %s\n", path)
	fmt.Printf("  Rules detected: %d\n", len(p.Rules))
	for _, rule := range p.Rules {
		fmt.Printf("    - %s: %s\n", rule.TagPattern, rule.Action)
	}
	return nil
}

func runSanitize(args []string) error {
	fs := flag.NewFlagSet("sanitize", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	policyPath := fs.String("policy", "", "Policy file (default: the configured default policy)")
	sessionID := fs.String("session", "", "Session ID (default: a new UUID)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errors.New("sanitize needs exactly one XML file")
	}

	app, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer app.close()

	// The CLI may read any file it is given, so the input and policy
	// directories are narrowed to the named files.
	cfg := *app.config
	cfg.Paths.InputDir = filepath.Dir(pos[0])
	req := session.ReadRequest{FilePath: filepath.Base(pos[0]), SessionID: *sessionID}
	if *policyPath != "" {
		cfg.Paths.PolicyDir = filepath.Dir(*policyPath)
		req.Policy = filepath.Base(*policyPath)
	}

	ctx := context.Background()
	svc := session.New(&cfg, app.catalog, app.logger, app.sessionOptions()...)
	res, err := svc.ReadSafeStructure(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Sanitized: %s\n", res.OutputPath)
	fmt.Printf("  Session: %s\n", res.SessionID)
	fmt.Printf("  Vault: %s\n", res.VaultPath)
	fmt.Printf("  Masked: %d, shuffled parents: %d, shadowed: %d\n",
		res.Report.Masked, res.Report.ShuffledParents, res.Report.Shadowed)
	return nil
}

func runRehydrate(args []string) error {
	fs := flag.NewFlagSet("rehydrate", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	vaultPath := fs.String("vault", "", "Vault file (default: the configured vault path)")
	output := fs.String("o", "", "Output file (default: print to stdout)")
	inPlace := fs.Bool("i", false, "Modify the file in place, keeping a .bak backup")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return errors.New("rehydrate needs exactly one input file")
	}

	app, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer app.close()

	svc := session.New(app.config, app.catalog, app.logger, app.sessionOptions()...)
	res, err := svc.Rehydrate(context.Background(), session.RehydrateRequest{
		Input:     pos[0],
		VaultPath: *vaultPath,
		Output:    *output,
		InPlace:   *inPlace,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Loaded vault with %d entries\n", res.Entries)
	switch {
	case res.BackupPath != "":
		fmt.Printf("Backup created: %s\n", res.BackupPath)
		fmt.Printf("Restored: %s\n", res.OutputPath)
	case res.OutputPath != "":
		fmt.Printf("Restored output written to: %s\n", res.OutputPath)
	default:
		fmt.Println("\n--- Restored Content ---")
		fmt.Println(res.Content)
	}
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	vaultPath := fs.String("vault", "", "Vault file to export")
	sessionID := fs.String("session", "", "Session whose vault to export from the configured backend")
	output := fs.String("o", "", "Parquet file to write")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if *output == "" {
		return errors.New("export needs -o")
	}
	if (*vaultPath == "") == (*sessionID == "") {
		return errors.New("export needs exactly one of -vault or -session")
	}

	app, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	var storage vault.Storage
	if *vaultPath != "" {
		if _, err := os.Stat(*vaultPath); err != nil {
			return fmt.Errorf("vault file not found: %s", *vaultPath)
		}
		storage = vault.FileStorage(*vaultPath)
		*sessionID = strings.TrimSuffix(filepath.Base(*vaultPath), vault.FileSuffix)
	} else {
		if _, err := app.catalog.Stat(ctx, *sessionID); err != nil {
			return err
		}
		if storage, err = app.catalog.Open(*sessionID); err != nil {
			return err
		}
	}

	v := vault.New(storage)
	if err := v.Load(ctx); err != nil {
		return err
	}

	n, err := archive.NewExporter(app.logger.Logger).ExportFile(*output, *sessionID, v)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d entries to %s\n", n, *output)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	host := fs.String("host", "", "Override the bind address")
	port := fs.Int("port", 0, "Override the port")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	app, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer app.close()

	cfg := app.config
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	log := app.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(&websocket.HubConfig{
		BroadcastPolicies:    cfg.WebSocket.Events.BroadcastPolicies,
		BroadcastSessions:    cfg.WebSocket.Events.BroadcastSessions,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
		MaxConnections:       cfg.WebSocket.MaxConnections,
		ReadBufferSize:       cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:      cfg.WebSocket.WriteBufferSize,
		PingInterval:         cfg.WebSocket.PingInterval,
		PongTimeout:          cfg.WebSocket.PongTimeout,
		WriteTimeout:         cfg.WebSocket.WriteTimeout,
		MaxMessageSize:       cfg.WebSocket.MaxMessageSize,
	}, log.Logger)
	go hub.Run(ctx)

	sessionOpts := app.sessionOptions()
	serverOpts := []server.Option{server.WithHub(hub)}
	if cfg.WebSocket.Enabled {
		sessionOpts = append(sessionOpts, session.WithPublisher(hub))
	}
	if app.ledger != nil {
		serverOpts = append(serverOpts, server.WithRunLog(app.ledger))
	}

	svc := session.New(cfg, app.catalog, log, sessionOpts...)
	srv := server.New(cfg, svc, log, serverOpts...)

	if _, err := os.Stat(*configPath); err == nil {
		if err := config.Watch(ctx, *configPath, log.Logger, func(next *config.Config) {
			// Listener, vault backend and ledger stay as started
			next.Server = cfg.Server
			next.Vault = cfg.Vault
			svc.UpdateConfig(next)
		}); err != nil {
			log.Warn("Config watching disabled", zap.Error(err))
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()

		if err := srv.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		log.Info("Server shutdown complete")
	}
	return nil
}
