// Command glsp is the Groovy Language Server launcher (spec.md §4.10,
// component C10 boundary). Grounded on the teacher's cmd/analyzer/main.go:
// cobra root command, logrusr-over-logrus logging pipeline, and
// tracing.InitTracerProvider/Shutdown wiring, adapted from "run rules once
// and exit" to "serve the LSP protocol until shutdown/exit".
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	logrusr "github.com/bombsimon/logrusr/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/groovy-lsp/glsp/internal/bus"
	"github.com/groovy-lsp/glsp/internal/compiler"
	"github.com/groovy-lsp/glsp/internal/config"
	"github.com/groovy-lsp/glsp/internal/depresolve"
	"github.com/groovy-lsp/glsp/internal/document"
	"github.com/groovy-lsp/glsp/internal/lsprpc"
	"github.com/groovy-lsp/glsp/internal/symbolindex"
	"github.com/groovy-lsp/glsp/internal/tracing"
	"github.com/groovy-lsp/glsp/internal/workspace"
)

// ExitConfigError is returned when the server cannot even start (spec.md
// §6, "CLI launcher exit codes"): bad flags, unreadable config, or a
// symbol index that fails to open.
const ExitConfigError = 1

var (
	configFile     string
	stdioMode      bool
	socketAddr     string
	logLevel       int
	enableJaeger   bool
	jaegerEndpoint string

	rootCmd = &cobra.Command{
		Use:   "glsp",
		Short: "Groovy Language Server",
		RunE:  run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to a glsp YAML config file")
	rootCmd.Flags().BoolVar(&stdioMode, "stdio", true, "serve the LSP protocol over stdin/stdout")
	rootCmd.Flags().StringVar(&socketAddr, "socket", "", "serve the LSP protocol over a TCP socket at this address instead of stdio (e.g. 127.0.0.1:9257)")
	rootCmd.Flags().IntVar(&logLevel, "verbose", 0, "level for logging output")
	rootCmd.Flags().BoolVar(&enableJaeger, "enable-jaeger", false, "enable tracer exports to jaeger endpoint")
	rootCmd.Flags().StringVar(&jaegerEndpoint, "jaeger-endpoint", "http://localhost:14268/api/traces", "jaeger endpoint to collect tracing data")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(ExitConfigError)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logLevel
	}

	logrusLog := logrus.New()
	logrusLog.SetOutput(os.Stderr) // stdout is reserved for LSP frames in --stdio mode
	logrusLog.SetFormatter(&logrus.TextFormatter{})
	logrusLog.SetLevel(logrus.Level(logrus.InfoLevel + logrus.Level(cfg.LogLevel)))
	log := logrusr.New(logrusLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.InitTracerProvider(log, tracing.Options{
		EnableJaeger:   enableJaeger,
		JaegerEndpoint: jaegerEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(ctx, log, tp)

	ctx, span := tracing.StartNewSpan(ctx, "glsp.serve")
	defer span.End()

	root := cfg.WorkspaceRoot
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine workspace root: %w", err)
		}
	}

	indexPath := cfg.SymbolIndexPath
	if indexPath == "" {
		indexPath = root + "/.glsp-symbols.db"
	}
	store, err := symbolindex.Open(indexPath)
	if err != nil {
		return fmt.Errorf("open symbol index: %w", err)
	}
	defer store.Close()

	eventBus := bus.New(ctx, log.WithName("bus"))
	defer eventBus.Stop()

	docs := document.NewStore()

	comp, err := compiler.New(eventBus)
	if err != nil {
		return fmt.Errorf("create compiler: %w", err)
	}

	resolver := depresolve.DetectResolver(log.WithName("depresolve"), root)

	var workspaceOpts []workspace.Option
	if cfg.WorkerCount > 0 {
		workspaceOpts = append(workspaceOpts, workspace.WithWorkerCount(cfg.WorkerCount))
	}
	indexer := workspace.New(root, log.WithName("workspace"), eventBus, comp, store, resolver, workspaceOpts...)

	if err := indexer.IndexAll(ctx); err != nil {
		log.Error(err, "initial workspace indexing failed")
	}
	if err := indexer.Watch(ctx); err != nil {
		log.Error(err, "failed to start workspace watcher")
	}
	defer indexer.Stop()

	server := lsprpc.NewServer(log, docs, comp, store)

	stream, streamCloser, err := buildStream()
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	if streamCloser != nil {
		defer streamCloser()
	}

	conn := lsprpc.NewConn(stream, log.WithName("rpc"))
	conn.SetDispatch(server.Dispatch)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		conn.Close()
	}()

	if err := conn.Run(ctx); err != nil {
		log.V(3).Info("connection closed", "reason", err.Error())
	}
	return nil
}

// buildStream selects the transport per --stdio/--socket (spec.md §4.10,
// "must support both stdio and socket transports"). The returned closer,
// if non-nil, releases any listener resources beyond the stream itself.
func buildStream() (lsprpc.Stream, func(), error) {
	if socketAddr != "" {
		ln, err := net.Listen("tcp", socketAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listen on %s: %w", socketAddr, err)
		}
		conn, err := ln.Accept()
		if err != nil {
			ln.Close()
			return nil, nil, fmt.Errorf("accept on %s: %w", socketAddr, err)
		}
		stream := lsprpc.NewHeaderStream(conn, conn)
		return stream, func() { ln.Close() }, nil
	}

	return lsprpc.NewHeaderStream(os.Stdin, os.Stdout), nil, nil
}
