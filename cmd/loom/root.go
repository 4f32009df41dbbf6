package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom runs declarative workflow graphs",
	Long: `Loom compiles a YAML workflow document into a typed state machine
and runs it: one node at a time, checkpointed after every step, pausable
at interrupt gates and resumable with human input.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("file", "f", "workflow.yaml", "Workflow document to load")
	rootCmd.PersistentFlags().StringArray("var", nil, "Template variable as key=value (repeatable)")
	rootCmd.PersistentFlags().String("processes", "processes.yaml", "Process allow-list file for control nodes")
}
