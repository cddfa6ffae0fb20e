package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adfharrison1/go-reql/pkg/server"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

func main() {
	// Command line flags
	var (
		port               = flag.String("port", "28015", "Server port")
		dataDir            = flag.String("data-dir", "", "Data directory for snapshots and the write-ahead log. Empty keeps everything in memory.")
		checkpointInterval = flag.Duration("checkpoint-interval", 0, "Checkpoint interval (e.g., 5m, 30s). Set to 0 to disable.")
		durability         = flag.String("durability", "hard", "Default write durability: hard or soft")
		authKey            = flag.String("auth-key", "", "Key sessions must present before running queries")
		maxBatchRows       = flag.Int("max-batch-rows", server.DefaultMaxBatchRows, "Rows per sequence batch")
		cursorCache        = flag.Int("cursor-cache", server.DefaultCursorCacheSize, "Open cursors kept per session")
		idleTimeout        = flag.Duration("idle-timeout", server.DefaultSessionIdleTimeout, "Close sessions idle this long. Set to 0 to disable.")
		showHelp           = flag.Bool("help", false, "Show help message")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\ngo-reql-server is an in-memory reference server for the go-reql driver.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                         # In memory on :28015\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -data-dir /tmp/reql                     # Persist to a directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -data-dir /tmp/reql -checkpoint-interval 5m\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -auth-key secret -max-batch-rows 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nSafety Note:\n")
		fmt.Fprintf(os.Stderr, "  Without -data-dir, data is lost when the server exits.\n")
		fmt.Fprintf(os.Stderr, "  Soft durability writes are logged but not synced to disk.\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	// Build storage options based on flags
	var storageOptions []storage.StorageOption

	if *dataDir != "" {
		storageOptions = append(storageOptions, storage.WithDataDir(*dataDir))
		log.Printf("INFO: Using data directory: %s", *dataDir)
	} else {
		log.Printf("WARN: No data directory - data is kept in memory only")
	}

	if *checkpointInterval > 0 {
		storageOptions = append(storageOptions, storage.WithCheckpointInterval(*checkpointInterval))
		log.Printf("INFO: Checkpoints enabled: every %v", *checkpointInterval)
	}
	storageOptions = append(storageOptions, storage.WithDefaultDurability(*durability))

	options := []server.Option{
		server.WithStorageOptions(storageOptions...),
		server.WithMaxBatchRows(*maxBatchRows),
		server.WithCursorCacheSize(*cursorCache),
		server.WithSessionIdleTimeout(*idleTimeout),
	}
	if *authKey != "" {
		options = append(options, server.WithAuthKey(*authKey))
		log.Printf("INFO: Authentication required")
	}

	srv, err := server.NewServer(options...)
	if err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
	srv.StartBackgroundWorkers()

	// Create HTTP server
	httpServer := &http.Server{
		Addr:    ":" + *port,
		Handler: srv.Router(),
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting go-reql server on :%s", *port)
		log.Printf("Sessions available at http://localhost:%s/sessions", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("ERROR: Server forced to shutdown: %v", err)
	}

	// Closing takes a final checkpoint
	if err := srv.Close(); err != nil {
		log.Fatal("Failed to close storage:", err)
	}

	log.Println("Server exited")
}
