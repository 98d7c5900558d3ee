// Package cmd provides the command-line surface for stencil. The
// commands are thin glue: they load configuration, construct the
// pipeline explicitly, and hand results to the output writer. All
// generation behavior lives in the internal packages.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stencilkit/stencil/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "stencil",
	Short: "A dependency-ordered code generation pipeline",
	Long: `Stencil generates source trees from a domain model and a set of
templates. Templates declare dependencies on each other; stencil
validates the dependency graph, schedules execution across a bounded
worker pool, and caches rendered artifacts across runs.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	registerGlobalFlags(rootCmd.PersistentFlags())
}

func registerGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&logLevel, "log-level", "l", "info",
		"log level (debug, info, warn, error)")
}

func newLogger(format string) logging.Logger {
	level := logging.LevelInfo
	switch logLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})
}
