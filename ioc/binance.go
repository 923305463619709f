package ioc

import (
	"fmt"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/adshao/go-binance/v2"
	"github.com/spf13/viper"
)

// InitBinanceCli 密钥可以写在配置里，也可以放在 .env 的 BINANCE_API_KEY / BINANCE_API_SECRET
func InitBinanceCli() (*binance.Client, error) {
	_ = viper.BindEnv("cex.binance.api_key", "CEX_BINANCE_API_KEY", "BINANCE_API_KEY")
	_ = viper.BindEnv("cex.binance.api_secret", "CEX_BINANCE_API_SECRET", "BINANCE_API_SECRET")

	apiKey := viper.GetString("cex.binance.api_key")
	apiSecret := viper.GetString("cex.binance.api_secret")
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("%w: binance api key or secret not set", errs.ErrFatalConfiguration)
	}
	// rest 和 websocket 共用这个开关
	binance.UseTestnet = viper.GetBool("cex.binance.testnet")

	return binance.NewClient(apiKey, apiSecret), nil
}
