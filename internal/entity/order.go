package entity

import (
	"time"
)

// Order 已到终态的订单归档
type Order struct {
	Id              int64  `gorm:"primaryKey;autoIncrement"`
	ClientOrderId   string `gorm:"uniqueIndex"`
	ExchangeOrderId string `gorm:"index"`
	StrategyId      string `gorm:"index"`
	IdempotencyKey  string
	Base            string `gorm:"index:order_pair_idx"`
	Quote           string `gorm:"index:order_pair_idx"`
	Side            string
	Type            string
	Quantity        string
	Price           string
	FilledQuantity  string
	AvgFillPrice    string
	Status          string `gorm:"index"`
	Reason          string
	History         string // 状态迁移，逗号分隔
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}
