package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.QuotaManager = (*MemoryQuotaManager)(nil)

// ErrQuotaExhausted indicates a reservation would exceed the remaining
// iteration allowance.
var ErrQuotaExhausted = errors.New("iteration quota exhausted")

// MemoryQuotaManager enforces an iteration allowance in memory. It backs
// the billing collaborator contract for single-process deployments and
// tests; a service-backed implementation satisfies the same interface.
//
// Refunds are capped at what the run actually reserved, so a buggy caller
// cannot mint quota.
type MemoryQuotaManager struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
	reserved  map[string]int
}

// NewMemoryQuotaManager creates a manager with the given iteration
// allowance. A negative allowance means unlimited.
func NewMemoryQuotaManager(allowance int) *MemoryQuotaManager {
	return &MemoryQuotaManager{
		remaining: allowance,
		unlimited: allowance < 0,
		reserved:  make(map[string]int),
	}
}

// Reserve decrements the allowance for a run before sampling starts.
func (m *MemoryQuotaManager) Reserve(_ context.Context, runID string, iterations int) error {
	if iterations <= 0 {
		return fmt.Errorf("reservation must be positive, got %d", iterations)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlimited {
		if iterations > m.remaining {
			return fmt.Errorf("%w: requested %d, remaining %d", ErrQuotaExhausted, iterations, m.remaining)
		}
		m.remaining -= iterations
	}
	m.reserved[runID] += iterations
	return nil
}

// Refund returns quota for iterations that failed or never executed.
func (m *MemoryQuotaManager) Refund(_ context.Context, runID string, iterations int) error {
	if iterations <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.reserved[runID]
	if iterations > held {
		return fmt.Errorf("refund of %d exceeds reservation of %d for run %s", iterations, held, runID)
	}

	m.reserved[runID] = held - iterations
	if m.reserved[runID] == 0 {
		delete(m.reserved, runID)
	}
	if !m.unlimited {
		m.remaining += iterations
	}
	return nil
}

// Remaining reports the current allowance. It returns -1 for unlimited
// managers.
func (m *MemoryQuotaManager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlimited {
		return -1
	}
	return m.remaining
}
