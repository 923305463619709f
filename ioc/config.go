package ioc

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/KNICEX/kryptobot/internal/service/exchange"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// InitViper 读取 --config 指定的配置文件，.env 中的变量会先加载到环境变量
// 环境变量优先于配置文件，例如 CEX_BINANCE_API_KEY 覆盖 cex.binance.api_key
func InitViper(args []string) error {
	flags := pflag.NewFlagSet("kryptobot", pflag.ContinueOnError)
	// --config=./config/xxx.yaml
	file := flags.String("config", "./config/config.dev.yaml", "specify config file")
	envFile := flags.String("env", ".env", "specify dotenv file")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrFatalConfiguration, err)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: load %s: %v", errs.ErrFatalConfiguration, *envFile, err)
	}

	viper.SetConfigFile(*file)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config file: %v", errs.ErrFatalConfiguration, err)
	}
	return nil
}

// unmarshalKey 没有配置时保留 cfg 中的默认值
func unmarshalKey(key string, cfg any) error {
	if !viper.IsSet(key) {
		return nil
	}
	if err := viper.UnmarshalKey(key, cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrFatalConfiguration, key, err)
	}
	return nil
}

// InitWatchlist 读取 watchlist，格式为 BASE/QUOTE
func InitWatchlist() ([]exchange.TradingPair, error) {
	raw := viper.GetStringSlice("watchlist")
	pairs := make([]exchange.TradingPair, 0, len(raw))
	for _, s := range raw {
		p, err := exchange.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("%w: watchlist: %v", errs.ErrFatalConfiguration, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
