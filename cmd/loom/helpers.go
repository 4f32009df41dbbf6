package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomlab/loom/pkg/adapters/file"
	"github.com/loomlab/loom/pkg/adapters/memory"
	"github.com/loomlab/loom/pkg/adapters/process"
	redisstore "github.com/loomlab/loom/pkg/adapters/redis"
	"github.com/loomlab/loom/pkg/ports"
)

// parseKeyValues turns repeated key=value flags into a map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

func templateVars(cmd *cobra.Command) (map[string]string, error) {
	pairs, _ := cmd.Flags().GetStringArray("var")
	return parseKeyValues(pairs)
}

// buildLauncher loads the process allow-list named by --processes. A
// missing file yields an empty launcher, which is fine for workflows
// without control nodes.
func buildLauncher(cmd *cobra.Command) (*process.Launcher, error) {
	path, _ := cmd.Flags().GetString("processes")
	registry, err := process.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return process.NewLauncher(process.WithRegistry(registry)), nil
}

// openStore picks the checkpoint backend. An explicit --store wins;
// otherwise the document's checkpointer field, then the flag default.
func openStore(cmd *cobra.Command, docDefault string) (ports.CheckpointStore, error) {
	kind, _ := cmd.Flags().GetString("store")
	if !cmd.Flags().Changed("store") && docDefault != "" {
		kind = docDefault
	}
	switch kind {
	case "memory":
		return memory.NewStore(), nil
	case "file":
		dir, _ := cmd.Flags().GetString("checkpoint-dir")
		return file.NewStore(dir), nil
	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		return redisstore.New(addr, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want memory, file, or redis)", kind)
	}
}

// storeFlags registers the checkpoint backend flags on a command.
func storeFlags(cmd *cobra.Command, defaultKind string) {
	cmd.Flags().String("store", defaultKind, "Checkpoint backend: memory, file, or redis")
	cmd.Flags().String("checkpoint-dir", ".loom/checkpoints", "Directory for the file store")
	cmd.Flags().String("redis-addr", "localhost:6379", "Address for the redis store")
}
