package memory_test

import (
	"testing"

	"github.com/loomlab/loom/pkg/adapters/memory"
	"github.com/loomlab/loom/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunCheckpointStoreContract(t, store)
}
