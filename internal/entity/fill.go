package entity

import (
	"time"
)

// Fill 成交记录，trade id 唯一
type Fill struct {
	Id              int64  `gorm:"primaryKey;autoIncrement"`
	TradeId         string `gorm:"uniqueIndex"`
	ExchangeOrderId string `gorm:"index"`
	ClientOrderId   string `gorm:"index"`
	Base            string
	Quote           string
	Side            string
	Quantity        string
	Price           string
	Fee             string
	FeeAsset        string
	Time            time.Time `gorm:"index"`
	CreatedAt       time.Time
}
