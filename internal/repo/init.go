package repo

import (
	"github.com/KNICEX/kryptobot/internal/entity"
	"gorm.io/gorm"
)

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Order{}, &entity.Fill{})
}
