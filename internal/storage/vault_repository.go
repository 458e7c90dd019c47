package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/types"
)

// VaultRepository persists vault ledger state in Postgres
type VaultRepository struct {
	db *PostgresDB
}

// NewVaultRepository creates a new vault repository
func NewVaultRepository(db *PostgresDB) *VaultRepository {
	return &VaultRepository{db: db}
}

// Save replaces the stored state of one vault in a single transaction
func (r *VaultRepository) Save(ctx context.Context, st *models.VaultState) error {
	err := pgx.BeginFunc(ctx, r.db.Pool(), func(tx pgx.Tx) error {
		if err := upsertVault(ctx, tx, &st.Vault); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM vault_strategies WHERE vault_id = $1`, st.Vault.ID); err != nil {
			return fmt.Errorf("failed to clear strategies: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM vault_share_balances WHERE vault_id = $1`, st.Vault.ID); err != nil {
			return fmt.Errorf("failed to clear share balances: %w", err)
		}

		if err := insertStrategies(ctx, tx, st.Strategies); err != nil {
			return err
		}
		return copyBalances(ctx, tx, st.Balances)
	})
	if err != nil {
		return apperrors.NewDatabaseError("save vault", err)
	}
	return nil
}

func upsertVault(ctx context.Context, tx pgx.Tx, v *models.Vault) error {
	amounts, err := numerics(v.IdleBalance, v.TotalDebt, v.TotalShares, v.DepositLimit)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO vaults (
			id, decimals, idle_balance, total_debt, total_shares, deposit_limit,
			management_fee, performance_fee, fee_recipient, emergency_shutdown, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			idle_balance = EXCLUDED.idle_balance,
			total_debt = EXCLUDED.total_debt,
			total_shares = EXCLUDED.total_shares,
			deposit_limit = EXCLUDED.deposit_limit,
			management_fee = EXCLUDED.management_fee,
			performance_fee = EXCLUDED.performance_fee,
			fee_recipient = EXCLUDED.fee_recipient,
			emergency_shutdown = EXCLUDED.emergency_shutdown,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.Exec(ctx, query,
		v.ID, v.Decimals, amounts[0], amounts[1], amounts[2], amounts[3],
		v.ManagementFee, v.PerformanceFee, v.FeeRecipient, v.EmergencyShutdown, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vault: %w", err)
	}
	return nil
}

func insertStrategies(ctx context.Context, tx pgx.Tx, rows []models.Strategy) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO vault_strategies (
			vault_id, strategy_id, status, debt_ratio, current_debt,
			min_debt_per_harvest, max_debt_per_harvest, performance_fee,
			activation, last_report, total_gain, total_loss, unreconciled_loss,
			emergency_exit, queue_position, kind, endpoint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	batch := &pgx.Batch{}
	for _, s := range rows {
		amounts, err := numerics(s.CurrentDebt, s.MinDebtPerHarvest, s.MaxDebtPerHarvest,
			s.TotalGain, s.TotalLoss, s.UnreconciledLoss)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", s.StrategyID, err)
		}
		batch.Queue(query,
			s.VaultID, s.StrategyID, string(s.Status), s.DebtRatio, amounts[0],
			amounts[1], amounts[2], s.PerformanceFee,
			s.Activation, s.LastReport, amounts[3], amounts[4], amounts[5],
			s.EmergencyExit, s.QueuePosition, string(s.Kind), s.Endpoint,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert strategies: %w", err)
	}
	return nil
}

func copyBalances(ctx context.Context, tx pgx.Tx, rows []models.ShareBalance) error {
	if len(rows) == 0 {
		return nil
	}

	src := make([][]any, 0, len(rows))
	for _, b := range rows {
		shares, err := numeric(b.Shares)
		if err != nil {
			return fmt.Errorf("account %s: %w", b.Account, err)
		}
		src = append(src, []any{b.VaultID, b.Account, shares})
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"vault_share_balances"},
		[]string{"vault_id", "account", "shares"},
		pgx.CopyFromRows(src),
	)
	if err != nil {
		return fmt.Errorf("failed to copy share balances: %w", err)
	}
	return nil
}

// Load reads the stored state of one vault
func (r *VaultRepository) Load(ctx context.Context, id string) (*models.VaultState, error) {
	st := &models.VaultState{}
	v := &st.Vault

	query := `
		SELECT id, decimals, idle_balance::text, total_debt::text, total_shares::text,
			deposit_limit::text, management_fee, performance_fee, fee_recipient,
			emergency_shutdown, updated_at
		FROM vaults
		WHERE id = $1
	`
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&v.ID, &v.Decimals, &v.IdleBalance, &v.TotalDebt, &v.TotalShares,
		&v.DepositLimit, &v.ManagementFee, &v.PerformanceFee, &v.FeeRecipient,
		&v.EmergencyShutdown, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewVaultNotFoundError(id)
		}
		return nil, apperrors.NewDatabaseError("load vault", err)
	}

	if st.Strategies, err = r.loadStrategies(ctx, id); err != nil {
		return nil, apperrors.NewDatabaseError("load strategies", err)
	}
	if st.Balances, err = r.loadBalances(ctx, id); err != nil {
		return nil, apperrors.NewDatabaseError("load share balances", err)
	}
	return st, nil
}

// loadStrategies returns queued strategies in queue order, then retired ones
func (r *VaultRepository) loadStrategies(ctx context.Context, vaultID string) ([]models.Strategy, error) {
	query := `
		SELECT vault_id, strategy_id, status, debt_ratio, current_debt::text,
			min_debt_per_harvest::text, max_debt_per_harvest::text, performance_fee,
			activation, last_report, total_gain::text, total_loss::text,
			unreconciled_loss::text, emergency_exit, queue_position, kind, endpoint
		FROM vault_strategies
		WHERE vault_id = $1
		ORDER BY queue_position < 0, queue_position, strategy_id
	`
	rows, err := r.db.Pool().Query(ctx, query, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Strategy
	for rows.Next() {
		var s models.Strategy
		var status, kind string
		if err := rows.Scan(
			&s.VaultID, &s.StrategyID, &status, &s.DebtRatio, &s.CurrentDebt,
			&s.MinDebtPerHarvest, &s.MaxDebtPerHarvest, &s.PerformanceFee,
			&s.Activation, &s.LastReport, &s.TotalGain, &s.TotalLoss,
			&s.UnreconciledLoss, &s.EmergencyExit, &s.QueuePosition, &kind, &s.Endpoint,
		); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		s.Status = types.StrategyStatus(status)
		s.Kind = types.StrategyKind(kind)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *VaultRepository) loadBalances(ctx context.Context, vaultID string) ([]models.ShareBalance, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT vault_id, account, shares::text FROM vault_share_balances WHERE vault_id = $1 ORDER BY account`,
		vaultID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[models.ShareBalance])
}

// List returns the ids of every stored vault
func (r *VaultRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM vaults ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list vaults", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.NewDatabaseError("list vaults", err)
	}
	return ids, nil
}

// Delete removes a vault and, by cascade, its strategies and balances
func (r *VaultRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM vaults WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete vault", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewVaultNotFoundError(id)
	}
	return nil
}

func numeric(raw string) (pgtype.Numeric, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return pgtype.Numeric{}, fmt.Errorf("invalid amount %q", raw)
	}
	return pgtype.Numeric{Int: n, Valid: true}, nil
}

func numerics(raws ...string) ([]pgtype.Numeric, error) {
	out := make([]pgtype.Numeric, len(raws))
	for i, raw := range raws {
		n, err := numeric(raw)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
