package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"partfield-server/internal/bootstrap"
	"partfield-server/internal/config"
	"partfield-server/internal/domain"
	"partfield-server/internal/httpapi"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		port    int
		public  bool
		jobsDir string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "partfield-server",
		Short: "HTTP job server for PartField 3D part segmentation",
		Long: "Runs the PartField feature-extraction and clustering pipeline as " +
			"external processes, one isolated workspace per submitted 3D asset.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(port, public, jobsDir, verbose)
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "listen port")
	cmd.Flags().BoolVar(&public, "public", false, "listen on all interfaces and allow cross-origin requests")
	cmd.Flags().StringVar(&jobsDir, "jobs-dir", config.DefaultJobsDir, "root directory for job workspaces")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func runServer(port int, public bool, jobsDir string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return fmt.Errorf("prepare jobs directory: %w", err)
	}

	logger, closeLog := config.SetupLogger(filepath.Join(jobsDir, "server.log"), level)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	app, err := bootstrap.New(jobsDir, logger)
	if err != nil {
		return fmt.Errorf("bootstrap app: %w", err)
	}
	if app.Diagnostics.HasFailures {
		for _, item := range app.Diagnostics.Items {
			if item.Status == domain.DiagnosticStatusFail {
				logger.Warn("diagnostic check failed", "check", item.ID, "message", item.Message)
			}
		}
	}

	host := "127.0.0.1"
	if public {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewServer(app, logger).Router(public),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server listening", "addr", addr, "public", public, "jobsDir", jobsDir)
	return server.ListenAndServe()
}
