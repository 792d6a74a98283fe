package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/taskchat/internal/config"
	"github.com/Joseda-hg/taskchat/internal/mcpserver"
	"github.com/Joseda-hg/taskchat/internal/seed"
	"github.com/Joseda-hg/taskchat/internal/tui"
)

var (
	configPathFlag string
	dbPathFlag     string
	webFlag        bool
	portFlag       int
	assistantFlag  string
	logLevelFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "taskchat",
	Short: "Hierarchical to-do list with a chat assistant",
	Long: `taskchat keeps a tree of tasks in a local SQLite database and lets an
assistant add, change and complete them from a chat conversation.

Running without a subcommand opens the terminal UI.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long:  "Serve the task and chat JSON API until interrupted",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose task tools over MCP on stdio",
	RunE:  runMCP,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the sample tasks into an empty database",
	RunE:  runSeed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPathFlag, "config", "", "config file path")
	flags.StringVar(&dbPathFlag, "db", "", "sqlite db path")
	flags.StringVar(&assistantFlag, "assistant", "", "assistant provider (mock or ollama)")
	flags.StringVar(&logLevelFlag, "log-level", "", "log level")

	rootCmd.Flags().BoolVar(&webFlag, "web", false, "also serve the HTTP API")
	tuiCmd.Flags().BoolVar(&webFlag, "web", false, "also serve the HTTP API")
	flags.IntVar(&portFlag, "port", 0, "web server port")

	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newFileLogger(cfg, cfgPath)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Web.Enabled {
		server, err := app.webServer()
		if err != nil {
			return err
		}
		go func() {
			if err := server.Run(ctx, webAddr(cfg)); err != nil {
				logger.WithError(err).Error("web server stopped")
			}
		}()
	}

	return tui.New(app.service, app.session, app.executor, logger).Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server, err := app.webServer()
	if err != nil {
		return err
	}
	return server.Run(ctx, webAddr(cfg))
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return mcpserver.New(app.executor, app.store, logger).Run(ctx, version)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, closeDB, err := openStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	inserted, err := seed.New(store, logger).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tasks into %s\n", inserted, cfg.DBPath)
	return nil
}

func webAddr(cfg config.Config) string {
	return fmt.Sprintf(":%d", cfg.Web.Port)
}
