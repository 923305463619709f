package ioc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/KNICEX/kryptobot/internal/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger 输出 JSON 日志到标准输出，配置了 log.file 时同时写文件
func InitLogger() (*zap.Logger, error) {
	type Config struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	}
	cfg := Config{Level: "info"}
	if err := unmarshalKey("log", &cfg); err != nil {
		return nil, err
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level: %v", errs.ErrFatalConfiguration, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("%w: log dir: %v", errs.ErrFatalConfiguration, err)
		}
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: log file: %v", errs.ErrFatalConfiguration, err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
