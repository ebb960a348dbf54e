package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --------------------------- positions ---------------------------

type positionRepo struct {
	db *gorm.DB
}

var positionUpdateCols = []string{
	"entry_price", "quantity", "leverage", "stop_loss", "profit_target",
	"sl_order_id", "tp_order_id", "entry_order_id", "opened_at", "metadata",
	"updated_at",
}

func (r *positionRepo) Save(ctx context.Context, pos *model.PositionModel) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if pos == nil {
		return fmt.Errorf("position is nil")
	}
	now := time.Now().UnixMilli()
	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))
	pos.Side = strings.ToLower(strings.TrimSpace(pos.Side))
	if pos.Symbol == "" || pos.Side == "" {
		return fmt.Errorf("position requires symbol and side")
	}
	if pos.CreatedAtUnix <= 0 {
		pos.CreatedAtUnix = now
	}
	pos.UpdatedAtUnix = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "side"}},
			DoUpdates: clause.AssignmentColumns(positionUpdateCols),
		}).
		Create(pos).Error
}

func (r *positionRepo) Find(ctx context.Context, symbol, side string) (*model.PositionModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var pos model.PositionModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND side = ?", strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(side))).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

func (r *positionRepo) List(ctx context.Context) ([]model.PositionModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var out []model.PositionModel
	if err := r.db.WithContext(ctx).Order("symbol ASC, side ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *positionRepo) Delete(ctx context.Context, symbol, side string) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("gorm store not initialized")
	}
	res := r.db.WithContext(ctx).
		Where("symbol = ? AND side = ?", strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(side))).
		Delete(&model.PositionModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *positionRepo) UpdateMetadata(ctx context.Context, symbol, side, metadata string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(metadata) == "" {
		metadata = "{}"
	}
	res := r.db.WithContext(ctx).Model(&model.PositionModel{}).
		Where("symbol = ? AND side = ?", strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(side))).
		Updates(map[string]interface{}{
			"metadata":   metadata,
			"updated_at": time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// --------------------------- price orders ---------------------------

type priceOrderRepo struct {
	db *gorm.DB
}

func (r *priceOrderRepo) Insert(ctx context.Context, order *model.PriceOrderModel) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	order.OrderID = strings.TrimSpace(order.OrderID)
	if order.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	order.Symbol = strings.ToUpper(strings.TrimSpace(order.Symbol))
	order.Side = strings.ToLower(strings.TrimSpace(order.Side))
	if order.Status == "" {
		order.Status = model.OrderStatusActive
	}
	now := time.Now().UnixMilli()
	if order.CreatedAtUnix <= 0 {
		order.CreatedAtUnix = now
	}
	order.UpdatedAtUnix = now
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *priceOrderRepo) ListActive(ctx context.Context) ([]model.PriceOrderModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var out []model.PriceOrderModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", model.OrderStatusActive).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *priceOrderRepo) FindByOrderID(ctx context.Context, orderID string) (*model.PriceOrderModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var order model.PriceOrderModel
	err := r.db.WithContext(ctx).Where("order_id = ?", strings.TrimSpace(orderID)).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *priceOrderRepo) UpdateStatus(ctx context.Context, orderID, status string, triggeredAt *time.Time) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if status != model.OrderStatusTriggered && status != model.OrderStatusCancelled {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	payload := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UnixMilli(),
	}
	if triggeredAt != nil && !triggeredAt.IsZero() {
		payload["triggered_at"] = triggeredAt.UnixMilli()
	}
	// Matching on status=active makes the transition monotonic: a row that
	// already reached a terminal state is never rewritten.
	res := r.db.WithContext(ctx).Model(&model.PriceOrderModel{}).
		Where("order_id = ? AND status = ?", strings.TrimSpace(orderID), model.OrderStatusActive).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *priceOrderRepo) RewriteOrderID(ctx context.Context, oldID, newID string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	newID = strings.TrimSpace(newID)
	if newID == "" {
		return fmt.Errorf("new order_id is required")
	}
	res := r.db.WithContext(ctx).Model(&model.PriceOrderModel{}).
		Where("order_id = ? AND status = ?", strings.TrimSpace(oldID), model.OrderStatusActive).
		Updates(map[string]interface{}{
			"order_id":   newID,
			"updated_at": time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// --------------------------- trades ---------------------------

type tradeRepo struct {
	db *gorm.DB
}

func (r *tradeRepo) Insert(ctx context.Context, trade *model.TradeModel) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if trade == nil {
		return fmt.Errorf("trade is nil")
	}
	trade.Symbol = strings.ToUpper(strings.TrimSpace(trade.Symbol))
	trade.Side = strings.ToLower(strings.TrimSpace(trade.Side))
	if trade.TimestampMs <= 0 {
		trade.TimestampMs = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *tradeRepo) FindByOrderID(ctx context.Context, orderID string) (*model.TradeModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var trade model.TradeModel
	err := r.db.WithContext(ctx).Where("order_id = ?", strings.TrimSpace(orderID)).First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepo) ListRecent(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Model(&model.TradeModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var out []model.TradeModel
	if err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------- close events ---------------------------

type closeEventRepo struct {
	db *gorm.DB
}

func (r *closeEventRepo) Insert(ctx context.Context, evt *model.PositionCloseEventModel) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if evt == nil {
		return fmt.Errorf("close event is nil")
	}
	evt.Symbol = strings.ToUpper(strings.TrimSpace(evt.Symbol))
	evt.Side = strings.ToLower(strings.TrimSpace(evt.Side))
	if evt.CreatedAtUnix <= 0 {
		evt.CreatedAtUnix = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(evt).Error
}

func (r *closeEventRepo) ListRecent(ctx context.Context, limit int) ([]model.PositionCloseEventModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.PositionCloseEventModel
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *closeEventRepo) FindByTriggerOrderID(ctx context.Context, triggerOrderID string) (*model.PositionCloseEventModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var evt model.PositionCloseEventModel
	err := r.db.WithContext(ctx).Where("trigger_order_id = ?", strings.TrimSpace(triggerOrderID)).First(&evt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// --------------------------- inconsistent states ---------------------------

type inconsistencyRepo struct {
	db *gorm.DB
}

func (r *inconsistencyRepo) Insert(ctx context.Context, rec *model.InconsistentStateModel) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	rec.Side = strings.ToLower(strings.TrimSpace(rec.Side))
	if rec.CreatedAtUnix <= 0 {
		rec.CreatedAtUnix = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *inconsistencyRepo) ListOpen(ctx context.Context, limit int) ([]model.InconsistentStateModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.InconsistentStateModel
	if err := r.db.WithContext(ctx).
		Where("resolved = 0").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *inconsistencyRepo) MarkResolved(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	res := r.db.WithContext(ctx).Model(&model.InconsistentStateModel{}).
		Where("id = ? AND resolved = 0", id).
		Update("resolved", 1)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// --------------------------- key/value ---------------------------

type kvRepo struct {
	db *gorm.DB
}

func (r *kvRepo) Get(ctx context.Context, key string) (*model.ConfigEntryModel, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var entry model.ConfigEntryModel
	err := r.db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *kvRepo) Put(ctx context.Context, key, value string, at time.Time) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("kv key is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	entry := model.ConfigEntryModel{Key: key, Value: value, UpdatedAtUnix: at.UnixMilli()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

func (r *kvRepo) Delete(ctx context.Context, key string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	return r.db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).Delete(&model.ConfigEntryModel{}).Error
}

func (r *kvRepo) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	if r == nil || r.db == nil {
		return false, fmt.Errorf("gorm store not initialized")
	}
	res := r.db.WithContext(ctx).
		Where("key = ? AND value = ?", strings.TrimSpace(key), value).
		Delete(&model.ConfigEntryModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
