// Package service hosts vault instances and ties each ledger operation to
// persistence, harvest history, the shared summary cache and the harvest lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yield-vault/internal/asset"
	"github.com/yield-vault/internal/config"
	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/logging"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/storage"
	"github.com/yield-vault/internal/strategy"
	"github.com/yield-vault/internal/types"
	"github.com/yield-vault/internal/vault"
)

// VaultStore persists ledger state
type VaultStore interface {
	Save(ctx context.Context, st *models.VaultState) error
	Load(ctx context.Context, id string) (*models.VaultState, error)
}

// ReportStore keeps harvest history
type ReportStore interface {
	Insert(ctx context.Context, reports ...*models.HarvestReport) error
	List(ctx context.Context, f storage.ReportFilter) ([]*models.HarvestReport, error)
}

// SummaryCache publishes vault summaries to other readers
type SummaryCache interface {
	Put(ctx context.Context, s types.VaultSummary) error
	Get(ctx context.Context, vaultID string) (*types.VaultSummary, bool, error)
}

// HarvestLocker serializes harvests of one strategy across processes
type HarvestLocker interface {
	Acquire(ctx context.Context, vaultID, strategyID string) (func(context.Context) error, error)
}

// HealthChecker is a backend the service depends on
type HealthChecker interface {
	Health(ctx context.Context) error
}

// UnitBuilder creates strategy units from their definitions
type UnitBuilder interface {
	Build(spec config.StrategySpec) (vault.Strategy, error)
}

// VaultService is a registry of independent vault instances sharing one asset book
type VaultService struct {
	book    *asset.Book
	units   UnitBuilder
	store   VaultStore
	reports ReportStore
	cache   SummaryCache
	lock    HarvestLocker
	clock   vault.Clock
	logger  *logging.Logger
	monitor *OperationMonitor

	callTimeout time.Duration
	backends    map[string]HealthChecker

	mu     sync.RWMutex
	vaults map[common.Address]*vault.Vault
	// simulated units, reachable for yield injection
	simulated map[common.Address]*strategy.Simulated
}

// Option customizes a VaultService
type Option func(*VaultService)

// WithVaultStore persists a snapshot after every mutation
func WithVaultStore(s VaultStore) Option { return func(vs *VaultService) { vs.store = s } }

// WithReportStore records harvest reports
func WithReportStore(r ReportStore) Option { return func(vs *VaultService) { vs.reports = r } }

// WithSummaryCache publishes summaries after every mutation
func WithSummaryCache(c SummaryCache) Option { return func(vs *VaultService) { vs.cache = c } }

// WithHarvestLocker takes a cross-process lock around each harvest
func WithHarvestLocker(l HarvestLocker) Option { return func(vs *VaultService) { vs.lock = l } }

// WithClock overrides the clock handed to every vault
func WithClock(c vault.Clock) Option { return func(vs *VaultService) { vs.clock = c } }

// WithLogger sets the service logger
func WithLogger(l *logging.Logger) Option { return func(vs *VaultService) { vs.logger = l } }

// WithHealthCheck reports a backend's state under name in BackendHealth
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(vs *VaultService) { vs.backends[name] = c }
}

// WithCallTimeout bounds each strategy call made by hosted vaults
func WithCallTimeout(d time.Duration) Option { return func(vs *VaultService) { vs.callTimeout = d } }

// NewVaultService creates an empty registry. Without a ReportStore, reports are kept in memory.
func NewVaultService(book *asset.Book, units UnitBuilder, opts ...Option) *VaultService {
	vs := &VaultService{
		book:        book,
		units:       units,
		clock:       vault.SystemClock{},
		logger:      logging.GetGlobalLogger(),
		monitor:     NewOperationMonitor(),
		callTimeout: vault.DefaultCallTimeout,
		vaults:      make(map[common.Address]*vault.Vault),
		simulated:   make(map[common.Address]*strategy.Simulated),
		backends:    make(map[string]HealthChecker),
	}
	for _, opt := range opts {
		opt(vs)
	}
	if vs.reports == nil {
		vs.reports = NewMemoryReportStore(1000)
	}
	vs.logger = vs.logger.WithComponent("vault_service")
	return vs
}

// Book returns the asset book backing every hosted vault
func (vs *VaultService) Book() *asset.Book { return vs.book }

// Monitor returns the operation statistics
func (vs *VaultService) Monitor() *OperationMonitor { return vs.monitor }

func (vs *VaultService) vaultOptions() []vault.Option {
	return []vault.Option{
		vault.WithClock(vs.clock),
		vault.WithLogger(vs.logger),
		vault.WithCallTimeout(vs.callTimeout),
	}
}

// Bootstrap hosts every vault in vf. A vault with stored state is restored from it;
// otherwise it is created empty and its strategies are attached in file order.
func (vs *VaultService) Bootstrap(ctx context.Context, vf *config.VaultFile) error {
	for _, spec := range vf.Vaults {
		if err := vs.bootstrapVault(ctx, spec); err != nil {
			return fmt.Errorf("bootstrap vault %s: %w", spec.ID, err)
		}
	}
	return nil
}

func (vs *VaultService) bootstrapVault(ctx context.Context, spec config.VaultSpec) error {
	id := spec.Address()

	vs.mu.RLock()
	_, exists := vs.vaults[id]
	vs.mu.RUnlock()
	if exists {
		return fmt.Errorf("already hosted")
	}

	if vs.store != nil {
		st, err := vs.store.Load(ctx, id.Hex())
		switch {
		case err == nil:
			return vs.restore(st, spec)
		case !errors.Is(err, apperrors.ErrVaultNotFound):
			return err
		}
	}

	limit, err := config.ParseAmount(spec.DepositLimit, nil)
	if err != nil {
		return err
	}
	v, err := vault.New(vault.Params{
		ID:             id,
		Decimals:       spec.Decimals,
		DepositLimit:   limit,
		ManagementFee:  spec.ManagementFee,
		PerformanceFee: spec.PerformanceFee,
		FeeRecipient:   common.HexToAddress(spec.FeeRecipient),
	}, vs.book, vs.vaultOptions()...)
	if err != nil {
		return err
	}

	units := make([]vault.Strategy, 0, len(spec.Strategies))
	for _, s := range spec.Strategies {
		params, err := strategyParams(s)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", s.ID, err)
		}
		unit, err := vs.buildUnit(s)
		if err != nil {
			return err
		}
		if err := v.AddStrategy(ctx, unit, params); err != nil {
			return fmt.Errorf("add strategy %s: %w", s.ID, err)
		}
		units = append(units, unit)
	}

	vs.host(v)
	vs.track(units...)
	vs.logger.WithVault(id).WithField("strategies", len(spec.Strategies)).Info("Vault created")
	vs.persist(ctx, v)
	return nil
}

// restore rebuilds a stored vault. Units are recreated from their stored definitions;
// rows written without one fall back to the bootstrap file. The asset book lives in
// memory, so idle funds and the positions of simulated units are re-seeded from the ledger.
func (vs *VaultService) restore(st *models.VaultState, spec config.VaultSpec) error {
	snap, err := st.Snapshot()
	if err != nil {
		return err
	}

	declared := make(map[common.Address]config.StrategySpec, len(spec.Strategies))
	for _, s := range spec.Strategies {
		declared[s.Address()] = s
	}

	units := make(map[common.Address]vault.Strategy)
	for _, h := range snap.Strategies {
		if h.QueuePosition < 0 {
			continue
		}
		def := config.StrategySpec{ID: h.ID.Hex(), Kind: h.Kind, Endpoint: h.Endpoint}
		if h.Kind == "" {
			s, ok := declared[h.ID]
			if !ok {
				return fmt.Errorf("no unit definition for strategy %s", h.ID.Hex())
			}
			def = s
		}
		unit, err := vs.buildUnit(def)
		if err != nil {
			return err
		}
		units[h.ID] = unit
	}

	v, err := vault.Restore(snap, units, vs.book, vs.vaultOptions()...)
	if err != nil {
		return err
	}

	if err := vs.book.Mint(snap.ID, snap.Idle); err != nil {
		return err
	}
	for _, h := range snap.Strategies {
		if _, ok := asSimulated(units[h.ID]); !ok {
			continue
		}
		if err := vs.book.Mint(h.ID, h.CurrentDebt); err != nil {
			return err
		}
	}

	vs.host(v)
	for _, unit := range units {
		vs.track(unit)
	}
	vs.logger.WithVault(snap.ID).WithField("total_debt", snap.TotalDebt.Dec()).Info("Vault restored")
	return nil
}

func (vs *VaultService) host(v *vault.Vault) {
	vs.mu.Lock()
	vs.vaults[v.ID()] = v
	vs.mu.Unlock()
}

func (vs *VaultService) buildUnit(spec config.StrategySpec) (vault.Strategy, error) {
	return vs.units.Build(spec)
}

// track remembers simulated units once they are attached to a vault
func (vs *VaultService) track(units ...vault.Strategy) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for _, unit := range units {
		if sim, ok := asSimulated(unit); ok {
			vs.simulated[sim.ID()] = sim
		}
	}
}

func asSimulated(unit vault.Strategy) (*strategy.Simulated, bool) {
	if g, ok := unit.(*strategy.Guarded); ok {
		unit = g.Unwrap()
	}
	sim, ok := unit.(*strategy.Simulated)
	return sim, ok
}

func (vs *VaultService) simulatedUnit(id common.Address) (*strategy.Simulated, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	s, ok := vs.simulated[id]
	return s, ok
}

// Vault returns a hosted vault
func (vs *VaultService) Vault(id common.Address) (*vault.Vault, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	v, ok := vs.vaults[id]
	if !ok {
		return nil, apperrors.NewVaultNotFoundError(id.Hex())
	}
	return v, nil
}

// VaultIDs lists hosted vaults in address order
func (vs *VaultService) VaultIDs() []common.Address {
	vs.mu.RLock()
	ids := make([]common.Address, 0, len(vs.vaults))
	for id := range vs.vaults {
		ids = append(ids, id)
	}
	vs.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids
}

// persist saves and publishes the vault's state. Failures are logged, not returned:
// the in-memory ledger is authoritative and the next successful save overwrites the row.
func (vs *VaultService) persist(ctx context.Context, v *vault.Vault) {
	ctx = context.WithoutCancel(ctx)
	logger := vs.logger.WithVault(v.ID())

	if vs.store != nil {
		start := time.Now()
		err := vs.store.Save(ctx, models.FromSnapshot(v.Snapshot(), vs.clock.Now()))
		vs.monitor.Record("persist", time.Since(start), err)
		if err != nil {
			logger.WithError(err).Error("Failed to persist vault state")
		}
	}
	if vs.cache != nil {
		if err := vs.cache.Put(ctx, v.Summary()); err != nil {
			logger.WithError(err).Warn("Failed to publish vault summary")
		}
	}
}

func (vs *VaultService) record(ctx context.Context, r *vault.HarvestReport) {
	if r == nil {
		return
	}
	if err := vs.reports.Insert(context.WithoutCancel(ctx), models.NewHarvestReport(r)); err != nil {
		vs.logger.WithVault(r.VaultID).WithStrategy(r.StrategyID).WithError(err).
			Error("Failed to record harvest report")
	}
}
