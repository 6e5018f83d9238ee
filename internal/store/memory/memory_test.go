package memory

import (
	"testing"

	"coursebot/internal/store"
	"coursebot/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.ChunkStore { return NewStore() })
}
