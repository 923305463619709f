package ioc

import (
	"context"
	"fmt"

	"github.com/KNICEX/kryptobot/internal/errs"
	"github.com/google/generative-ai-go/genai"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

func InitGeminiCli(ctx context.Context) (*genai.Client, error) {
	_ = viper.BindEnv("llm.gemini.api_key", "LLM_GEMINI_API_KEY", "GEMINI_API_KEY")

	apiKey := viper.GetString("llm.gemini.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no gemini api key set", errs.ErrFatalConfiguration)
	}

	cli, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", errs.ErrFatalConfiguration, err)
	}
	return cli, nil
}
