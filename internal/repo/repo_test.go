package repo

import (
	"context"
	"testing"
	"time"

	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库每个连接独立，只保留一个连接
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, InitTables(db))
	return db
}

func testOrder(status exchange.OrderStatus) exchange.Order {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return exchange.Order{
		ClientOrderId:  "c1",
		StrategyId:     "dip",
		IdempotencyKey: "dip|1|BTC/USDT",
		Pair:           exchange.MustParsePair("BTC/USDT"),
		Side:           exchange.Buy,
		Type:           exchange.OrderTypeMarket,
		Quantity:       decimal.NewFromInt(1),
		Status:         status,
		History: []exchange.StatusChange{
			{To: exchange.OrderStatusPending, At: at},
			{From: exchange.OrderStatusPending, To: exchange.OrderStatusAcknowledged, At: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestArchiveOrderUpsert(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepo(db)
	a := NewArchiver(orders, NewFillRepo(db))
	ctx := context.Background()

	o := testOrder(exchange.OrderStatusAcknowledged)
	require.NoError(t, a.ArchiveOrder(ctx, o))

	o.ExchangeOrderId = "42"
	o.FilledQuantity = decimal.NewFromInt(1)
	o.Status = exchange.OrderStatusFilled
	o.History = append(o.History, exchange.StatusChange{From: exchange.OrderStatusAcknowledged, To: exchange.OrderStatusFilled})
	require.NoError(t, a.ArchiveOrder(ctx, o))

	got, err := orders.FindByClientOrderId(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "filled", got.Status)
	assert.Equal(t, "42", got.ExchangeOrderId)
	assert.Equal(t, "1", got.FilledQuantity)
	assert.Equal(t, "pending,acknowledged,filled", got.History)
	assert.Equal(t, "BTC", got.Base)

	list, err := orders.FindByStrategy(ctx, "dip", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = orders.FindByClientOrderId(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestArchiveFillIgnoresDuplicates(t *testing.T) {
	db := newTestDB(t)
	fills := NewFillRepo(db)
	a := NewArchiver(NewOrderRepo(db), fills)
	ctx := context.Background()

	f := exchange.Fill{
		TradeId:       "t1",
		ClientOrderId: "c1",
		Pair:          exchange.MustParsePair("BTC/USDT"),
		Side:          exchange.Buy,
		Quantity:      decimal.RequireFromString("0.5"),
		Price:         decimal.NewFromInt(30000),
		Fee:           decimal.RequireFromString("0.01"),
		FeeAsset:      "USDT",
		Time:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, a.ArchiveFill(ctx, f))
	require.NoError(t, a.ArchiveFill(ctx, f))

	got, err := fills.FindByClientOrderId(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0.5", got[0].Quantity)
	assert.Equal(t, "30000", got[0].Price)
}
