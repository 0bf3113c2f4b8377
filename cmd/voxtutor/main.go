// Command voxtutor is the entry point for the spoken-answer evaluation server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxtutor: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "voxtutor",
		Short: "Evaluate spoken answers against expected words",
		Long: `voxtutor captures a learner's spoken answer through the browser's speech
recognizer or a native device bridge, matches it against the expected word and
decides whether to accept it, ask for confirmation or invite a retry.

Key commands:
  serve                           Run the HTTP API and the recognizer relay
  match <expected> <transcript>   Classify transcripts offline`,
		Example: `  voxtutor serve --config config.yaml
  voxtutor match banana "a banana" bananna cucumber`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version
	root.CompletionOptions.DisableDefaultCmd = true

	cfgPath := root.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(newServeCmd(cfgPath))
	root.AddCommand(newMatchCmd(cfgPath))
	return root
}
