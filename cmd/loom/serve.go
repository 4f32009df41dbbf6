package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/loomlab/loom"
	"github.com/loomlab/loom/internal/logging"
	loomhttp "github.com/loomlab/loom/pkg/adapters/http"
	"github.com/loomlab/loom/pkg/compiler"
	"github.com/loomlab/loom/pkg/observability"
	"github.com/loomlab/loom/pkg/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the instance API over HTTP",
	Long: `Compiles the document and exposes start, resume, and inspect as a
JSON API, with Prometheus metrics on /metrics. Workflows that call a
model or bind Go functions should embed the library instead; the server
covers control-node and human-in-the-loop graphs.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	storeFlags(serveCmd, "file")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if !cmd.Flags().Changed("file") && len(args) > 0 {
		path = args[0]
	}
	port, _ := cmd.Flags().GetString("port")

	vars, err := templateVars(cmd)
	if err != nil {
		return err
	}
	launcher, err := buildLauncher(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(slog.LevelInfo)

	graph, err := compiler.CompileFile(path, compiler.Options{
		Bindings:  registry.New(),
		Processes: launcher,
		Variables: vars,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	store, err := openStore(cmd, graph.Checkpointer)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(graph.Name, promReg)

	wf, err := loom.New(graph,
		loom.WithStore(store),
		loom.WithLauncher(launcher),
		loom.WithLifecycleHooks(metrics.Hooks()),
		loom.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.Handle("/", loomhttp.NewHandler(wf, loomhttp.WithLogger(logger)))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		fmt.Printf("Serving workflow %q on %s\n", graph.Name, srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt or terminate signals.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}
		fmt.Println("Server stopped gracefully")
	}
	return nil
}
