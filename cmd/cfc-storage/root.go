package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "cfc-storage",
	Short:         "Serve the chunked file store over the cfc-ptrace wire protocol",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetEnvPrefix("cfc")
	viper.AutomaticEnv()
	viper.SetDefault("storage_url", "ws://127.0.0.1:8080")
	viper.SetDefault("db_path", "fs.db")
	viper.SetDefault("chunk_size", 0)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
