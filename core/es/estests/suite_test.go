package estests

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/egil/evstore/adapters/logstore"
	"github.com/egil/evstore/adapters/tablestore"
	"github.com/egil/evstore/core/es"
	"github.com/egil/evstore/ports/appendlog"
	"github.com/egil/evstore/ports/table"
)

func TestMemoryBackend(t *testing.T) {
	Run(t, func(_ *testing.T) es.Backend {
		return es.NewMemoryBackend()
	})
}

func TestTableStoreBackend(t *testing.T) {
	Run(t, func(t *testing.T) es.Backend {
		b, err := tablestore.New(tablestore.Config{Table: table.NewMemoryStore()})
		require.NoError(t, err)
		return b
	})
}

func TestLogStoreBackend(t *testing.T) {
	Run(t, func(t *testing.T) es.Backend {
		b, err := logstore.New(logstore.Config{Log: appendlog.NewMemoryLog()})
		require.NoError(t, err)
		return b
	})
}
