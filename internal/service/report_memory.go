package service

import (
	"context"
	"sync"

	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/storage"
)

// MemoryReportStore keeps the most recent harvest reports per vault in memory.
// It backs deployments without ClickHouse.
type MemoryReportStore struct {
	mu       sync.RWMutex
	perVault int
	reports  map[string][]*models.HarvestReport
}

// NewMemoryReportStore keeps at most perVault reports for each vault
func NewMemoryReportStore(perVault int) *MemoryReportStore {
	return &MemoryReportStore{perVault: perVault, reports: make(map[string][]*models.HarvestReport)}
}

// Insert appends reports, dropping the oldest beyond capacity
func (m *MemoryReportStore) Insert(_ context.Context, reports ...*models.HarvestReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reports {
		list := append(m.reports[r.VaultID], r)
		if len(list) > m.perVault {
			list = list[len(list)-m.perVault:]
		}
		m.reports[r.VaultID] = list
	}
	return nil
}

// List returns matching reports newest first
func (m *MemoryReportStore) List(_ context.Context, f storage.ReportFilter) ([]*models.HarvestReport, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.reports[f.VaultID]
	out := make([]*models.HarvestReport, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		r := list[i]
		if f.StrategyID != "" && r.StrategyID != f.StrategyID {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
