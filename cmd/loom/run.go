package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomlab/loom"
	"github.com/loomlab/loom/pkg/compiler"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/ports"
	"github.com/loomlab/loom/pkg/registry"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow interactively",
	Long: `Compiles the document and drives an instance from the terminal.
Interrupt gates prompt on stdin; prompt nodes are answered on stdin as
well, so templates can be exercised without a model endpoint. Function
nodes need host bindings and cannot run from the command line.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWorkflow(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("instance", "", "Instance id to start or continue (generated when empty)")
	runCmd.Flags().StringArray("init", nil, "Initial state value as key=value (repeatable)")
	storeFlags(runCmd, "file")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if !cmd.Flags().Changed("file") && len(args) > 0 {
		path = args[0]
	}

	vars, err := templateVars(cmd)
	if err != nil {
		return err
	}
	launcher, err := buildLauncher(cmd)
	if err != nil {
		return err
	}

	graph, err := compiler.CompileFile(path, compiler.Options{
		Bindings:  registry.New(),
		Processes: launcher,
		Variables: vars,
	})
	if err != nil {
		return err
	}
	store, err := openStore(cmd, graph.Checkpointer)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)

	wf, err := loom.New(graph,
		loom.WithStore(store),
		loom.WithLauncher(launcher),
		loom.WithModel(&consoleModel{in: stdin}),
	)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	instanceID, _ := cmd.Flags().GetString("instance")
	initPairs, _ := cmd.Flags().GetStringArray("init")
	initial, err := parseKeyValues(initPairs)
	if err != nil {
		return err
	}
	initialState := make(map[string]any, len(initial))
	for k, v := range initial {
		initialState[k] = v
	}

	res, err := wf.Start(ctx, instanceID, initialState)
	if errors.Is(err, loom.ErrInstanceExists) {
		fmt.Printf("Continuing existing instance %s\n", instanceID)
		res, err = wf.Inspect(ctx, instanceID)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Instance %s started\n", res.InstanceID)

	for res.Status == domain.StatusAwaitingInput {
		fmt.Printf("[paused before %q]\n> ", res.AwaitingNode)
		line, err := stdin.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nInput closed; instance left suspended.")
				return nil
			}
			return err
		}

		res, err = wf.Resume(ctx, res.InstanceID, strings.TrimSpace(line))
		if err != nil {
			return err
		}
	}

	switch res.Status {
	case domain.StatusCompleted:
		fmt.Println("Workflow completed.")
		printState(res.State)
	case domain.StatusFailed:
		printState(res.State)
		return fmt.Errorf("workflow failed at %v: %s", res.State["current_node"], res.Error)
	}
	return nil
}

func printState(state map[string]any) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", state)
		return
	}
	fmt.Println(string(data))
}

// consoleModel satisfies prompt nodes from the terminal: it prints the
// rendered prompt and reads the reply from stdin.
type consoleModel struct {
	in *bufio.Reader
}

func (m *consoleModel) Invoke(_ context.Context, prompt string, images []ports.ImagePayload) (string, error) {
	fmt.Println("--- prompt ---")
	fmt.Println(prompt)
	for _, img := range images {
		fmt.Printf("[image %s: %s]\n", img.Key, img.Ref)
	}
	fmt.Print("reply> ")

	line, err := m.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
