package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "cfc-ptrace",
	Short:         "Trace a program and redirect its filesystem calls to a virtual store",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)
}

// initConfig binds the CFC_* environment variables the tracer reads
// (CFC_VIRTUAL_ROOT, CFC_STORAGE_URL), driven by env vars directly since
// this CLI has no config file.
func initConfig() {
	viper.SetEnvPrefix("cfc")
	viper.AutomaticEnv()
	viper.SetDefault("virtual_root", "")
	viper.SetDefault("storage_url", "ws://127.0.0.1:8080")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
