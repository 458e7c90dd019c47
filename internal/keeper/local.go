package keeper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yield-vault/internal/models"
	"github.com/yield-vault/internal/service"
)

type local struct {
	svc *service.VaultService
}

// Local adapts an in-process VaultService to Harvester
func Local(svc *service.VaultService) Harvester {
	return &local{svc: svc}
}

func (l *local) Vaults(context.Context) ([]common.Address, error) {
	return l.svc.VaultIDs(), nil
}

func (l *local) Queue(_ context.Context, vaultID common.Address) ([]common.Address, error) {
	return l.svc.Queue(vaultID)
}

func (l *local) Harvest(ctx context.Context, vaultID, strategyID common.Address) (*models.HarvestReport, error) {
	report, err := l.svc.Harvest(ctx, vaultID, strategyID)
	if report == nil {
		return nil, err
	}
	return models.NewHarvestReport(report), err
}
