package storage

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/models"
)

const reportColumns = `id, vault_id, strategy_id, gain, loss, debt_repaid, debt_added,
	total_debt_after, repayment_shortfall, fees, fee_shares, inconsistent_loss,
	emergency, timestamp`

// ReportFilter narrows a harvest history query
type ReportFilter struct {
	VaultID    string
	StrategyID string // optional
	Since      time.Time
	Limit      int
}

// ReportRepository appends harvest reports to ClickHouse and reads them back
type ReportRepository struct {
	db *ClickHouseDB
}

// NewReportRepository creates a new harvest report repository
func NewReportRepository(db *ClickHouseDB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Insert appends reports in one batch
func (r *ReportRepository) Insert(ctx context.Context, reports ...*models.HarvestReport) error {
	if len(reports) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, "INSERT INTO harvest_reports ("+reportColumns+")")
	if err != nil {
		return apperrors.NewDatabaseError("prepare report batch", err)
	}
	defer func() { _ = batch.Abort() }()

	for _, rep := range reports {
		id, err := uuid.Parse(rep.ID)
		if err != nil {
			return fmt.Errorf("invalid report id %q: %w", rep.ID, err)
		}
		amounts, err := bigInts(rep.Gain, rep.Loss, rep.DebtRepaid, rep.DebtAdded,
			rep.TotalDebtAfter, rep.RepaymentShortfall, rep.Fees, rep.FeeShares, rep.InconsistentLoss)
		if err != nil {
			return fmt.Errorf("report %s: %w", rep.ID, err)
		}

		args := []any{id, rep.VaultID, rep.StrategyID}
		for _, a := range amounts {
			args = append(args, a)
		}
		args = append(args, rep.Emergency, rep.Timestamp.UTC())
		if err := batch.Append(args...); err != nil {
			return apperrors.NewDatabaseError("append report", err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewDatabaseError("send report batch", err)
	}
	return nil
}

// List returns reports newest first
func (r *ReportRepository) List(ctx context.Context, f ReportFilter) ([]*models.HarvestReport, error) {
	var (
		where = []string{"vault_id = ?"}
		args  = []any{f.VaultID}
	)
	if f.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, f.StrategyID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM harvest_reports WHERE %s ORDER BY timestamp DESC LIMIT %d",
		reportColumns, strings.Join(where, " AND "), limit)

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query reports", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.HarvestReport
	for rows.Next() {
		var (
			id      uuid.UUID
			amounts [9]big.Int
			rep     models.HarvestReport
		)
		if err := rows.Scan(&id, &rep.VaultID, &rep.StrategyID,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4],
			&amounts[5], &amounts[6], &amounts[7], &amounts[8],
			&rep.Emergency, &rep.Timestamp,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan report", err)
		}

		rep.ID = id.String()
		dst := []*string{&rep.Gain, &rep.Loss, &rep.DebtRepaid, &rep.DebtAdded,
			&rep.TotalDebtAfter, &rep.RepaymentShortfall, &rep.Fees, &rep.FeeShares, &rep.InconsistentLoss}
		for i := range dst {
			*dst[i] = amounts[i].String()
		}
		out = append(out, &rep)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate reports", err)
	}
	return out, nil
}

func bigInts(raws ...string) ([]*big.Int, error) {
	out := make([]*big.Int, len(raws))
	for i, raw := range raws {
		n, ok := new(big.Int).SetString(raw, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", raw)
		}
		out[i] = n
	}
	return out, nil
}
