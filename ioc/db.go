package ioc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/repo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB() (*gorm.DB, error) {
	type Config struct {
		Dsn string `mapstructure:"dsn"`
	}
	cfg := Config{Dsn: "./data/kryptobot.db"}
	if err := unmarshalKey("db", &cfg); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Dsn); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: db dir: %v", errs.ErrFatalConfiguration, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", errs.ErrFatalConfiguration, err)
	}
	if err := repo.InitTables(db); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", errs.ErrFatalConfiguration, err)
	}
	return db, nil
}
