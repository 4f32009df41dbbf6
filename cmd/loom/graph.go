package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomlab/loom/internal/presentation/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph visualization",
	Long:  `Compiles the document and outputs a Mermaid diagram (graph TD) of its nodes and transitions.`,
	Run: func(cmd *cobra.Command, args []string) {
		g, err := runValidate(cmd, args)
		if err != nil {
			fmt.Printf("Error compiling workflow: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(graph.GenerateMermaid(g))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
