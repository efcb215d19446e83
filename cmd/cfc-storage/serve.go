package main

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cfc-ptrace/cfc-ptrace/pkg/storage"
	"github.com/cfc-ptrace/cfc-ptrace/pkg/wire"
)

var (
	serveStorageURL string
	serveDBPath     string
	serveChunkSize  int64
	serveMemory     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storage service listener",
	RunE:  cmdServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveStorageURL, "storage-url", "", "Bind address (default ws://127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "Sqlite database path (default fs.db)")
	serveCmd.Flags().Int64Var(&serveChunkSize, "chunk-size", 0, "Chunk size C in bytes (default 512 KiB)")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "Use an in-memory database (for tests)")
	viper.BindPFlag("serve.storage_url", serveCmd.Flags().Lookup("storage-url"))
	viper.BindPFlag("serve.db", serveCmd.Flags().Lookup("db"))
	viper.BindPFlag("serve.chunk_size", serveCmd.Flags().Lookup("chunk-size"))
	rootCmd.AddCommand(serveCmd)
}

func cmdServe(cmd *cobra.Command, args []string) error {
	dbPath := serveDBPath
	if dbPath == "" {
		dbPath = viper.GetString("serve.db")
	}
	if dbPath == "" {
		dbPath = viper.GetString("db_path")
	}
	if serveMemory {
		dbPath = ":memory:"
	}

	chunkSize := serveChunkSize
	if chunkSize == 0 {
		chunkSize = viper.GetInt64("serve.chunk_size")
	}
	if chunkSize == 0 {
		chunkSize = viper.GetInt64("chunk_size")
	}

	store, err := storage.Open(storage.Options{Path: dbPath, ChunkSize: chunkSize})
	if err != nil {
		fatalf("open storage database at %s: %v", dbPath, err)
	}
	defer store.Close()

	addr, err := resolveBindAddr()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fatalf("listen on %s: %v", addr, err)
	}

	log := slog.Default()
	server := wire.NewServer(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Info("storage service listening", "addr", ln.Addr().String(), "db", dbPath)
	if err := server.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		fatalf("serve: %v", err)
	}
	cancel()
	return nil
}

// resolveBindAddr mirrors the tracer's treatment of CFC_STORAGE_URL: a
// "ws://" scheme is accepted for compatibility, but this service listens
// on the bare host:port with the plain framing from pkg/wire.
func resolveBindAddr() (string, error) {
	raw := serveStorageURL
	if raw == "" {
		raw = viper.GetString("serve.storage_url")
	}
	if raw == "" {
		raw = viper.GetString("storage_url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host != "" {
		return u.Host, nil
	}
	return raw, nil
}
