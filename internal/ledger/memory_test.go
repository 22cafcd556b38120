package ledger_test

import (
	"testing"

	"hey-fireball/internal/ledger"
	"hey-fireball/internal/ledger/ledgertest"
)

func TestMemoryBackend(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		return ledger.NewMemoryBackend()
	})
}
