// Package audit appends inconsistent-state records. This is the engine's
// safety valve: whenever classification is ambiguous or a transaction
// partially fails, writing here discharges the obligation instead of
// approximating missing data.
package audit

import (
	"context"
	"fmt"

	"sentinel/internal/logger"
	"sentinel/internal/store"
	"sentinel/internal/store/model"
)

type Recorder struct {
	repo store.InconsistencyRepository
}

func NewRecorder(repo store.InconsistencyRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record appends one row. Rows are never updated or deleted by the engine;
// the operator-driven resolve action lives in the HTTP layer.
func (r *Recorder) Record(ctx context.Context, operation, symbol, side string, exchangeSuccess, ledgerSuccess bool, externalOrderID, message string) error {
	if r == nil || r.repo == nil {
		return fmt.Errorf("audit recorder not initialized")
	}
	logger.Errorf("inconsistent state: op=%s symbol=%s side=%s exchange_ok=%v ledger_ok=%v order=%s msg=%s",
		operation, symbol, side, exchangeSuccess, ledgerSuccess, externalOrderID, message)
	rec := &model.InconsistentStateModel{
		Operation:       operation,
		Symbol:          symbol,
		Side:            side,
		ExchangeSuccess: boolToInt(exchangeSuccess),
		DBSuccess:       boolToInt(ledgerSuccess),
		ExchangeOrderID: externalOrderID,
		ErrorMessage:    message,
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		logger.Errorf("audit: failed to persist inconsistent state record: %v", err)
		return err
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
