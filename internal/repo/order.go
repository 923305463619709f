package repo

import (
	"context"

	"github.com/KNICEX/kryptobot/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepo interface {
	// Save 按 client order id 插入或更新
	Save(ctx context.Context, order entity.Order) error
	FindByClientOrderId(ctx context.Context, clientOrderId string) (entity.Order, error)
	FindByStrategy(ctx context.Context, strategyId string, limit int) ([]entity.Order, error)
}

type orderRepo struct {
	db *gorm.DB
}

func NewOrderRepo(db *gorm.DB) OrderRepo {
	return &orderRepo{
		db: db,
	}
}

func (r *orderRepo) Save(ctx context.Context, order entity.Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exchange_order_id", "filled_quantity", "avg_fill_price", "status", "reason", "history", "updated_at",
		}),
	}).Create(&order).Error
}

func (r *orderRepo) FindByClientOrderId(ctx context.Context, clientOrderId string) (entity.Order, error) {
	var order entity.Order
	err := r.db.WithContext(ctx).Where("client_order_id = ?", clientOrderId).First(&order).Error
	if err != nil {
		return entity.Order{}, err
	}
	return order, nil
}

func (r *orderRepo) FindByStrategy(ctx context.Context, strategyId string, limit int) ([]entity.Order, error) {
	var orders []entity.Order
	err := r.db.WithContext(ctx).Where("strategy_id = ?", strategyId).
		Order("created_at DESC").Limit(limit).Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
