// Command epctoolsd is a thin CLI harness over the epctools library: it
// exposes a few entry points (TEID allocation, DNS query/node-selection,
// and a metrics-serving mode) for manual exercise and smoke testing. Spec
// §6 places the CLI surface out of core scope - no core contract depends
// on it - so this binary exists only to drive the library from a
// terminal, the same role the teacher's cmd/warren/main.go plays for its
// cluster commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/epctools/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "epctoolsd",
	Short:   "epctools - EPC control-plane infrastructure toolkit",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("epctoolsd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(teidCmd)
	rootCmd.AddCommand(dnsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
