package repo

import (
	"context"

	"github.com/KNICEX/kryptobot/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FillRepo interface {
	// Create 重复的 trade id 忽略
	Create(ctx context.Context, fill entity.Fill) error
	FindByClientOrderId(ctx context.Context, clientOrderId string) ([]entity.Fill, error)
}

type fillRepo struct {
	db *gorm.DB
}

func NewFillRepo(db *gorm.DB) FillRepo {
	return &fillRepo{
		db: db,
	}
}

func (r *fillRepo) Create(ctx context.Context, fill entity.Fill) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fill).Error
}

func (r *fillRepo) FindByClientOrderId(ctx context.Context, clientOrderId string) ([]entity.Fill, error) {
	var fills []entity.Fill
	err := r.db.WithContext(ctx).Where("client_order_id = ?", clientOrderId).Order("time").Find(&fills).Error
	if err != nil {
		return nil, err
	}
	return fills, nil
}
