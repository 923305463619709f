package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/KNICEX/kryptobot/internal/service/llm"
	"github.com/google/generative-ai-go/genai"
)

const DefaultModel = "gemini-2.0-flash"

var _ llm.Service = (*Service)(nil)

type Session struct {
	session *genai.ChatSession
}

func (s Session) Ask(ctx context.Context, q llm.Question) (llm.Answer, error) {
	resp, err := s.session.SendMessage(ctx, genai.Text(q.Content))
	if err != nil {
		return llm.Answer{}, fmt.Errorf("gemini chat: %w", err)
	}
	return toAnswer(resp), nil
}

type Service struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewService(client *genai.Client, opts ...Option) *Service {
	svc := &Service{
		client: client,
		model:  client.GenerativeModel(DefaultModel),
	}
	// 要求模型直接输出 json
	svc.model.ResponseMIMEType = "application/json"
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type Option func(service *Service)

func WithTemperature(temp float32) Option {
	return func(service *Service) {
		service.model.SetTemperature(temp)
	}
}

// WithModel 切换模型，需要放在其它选项之前
func WithModel(name string) Option {
	return func(service *Service) {
		if name == "" {
			return
		}
		service.model = service.client.GenerativeModel(name)
		service.model.ResponseMIMEType = "application/json"
	}
}

func (s *Service) AskOnce(ctx context.Context, q llm.Question) (llm.Answer, error) {
	resp, err := s.withSystem(q.System).GenerateContent(ctx, genai.Text(q.Content))
	if err != nil {
		return llm.Answer{}, fmt.Errorf("gemini generate: %w", err)
	}
	return toAnswer(resp), nil
}

// withSystem 带系统指令时复制一份模型配置，不修改共享的 model
func (s *Service) withSystem(system string) *genai.GenerativeModel {
	if system == "" {
		return s.model
	}
	m := *s.model
	m.SystemInstruction = genai.NewUserContent(genai.Text(system))
	return &m
}

func (s *Service) BeginChat(ctx context.Context) (llm.Session, error) {
	return &Session{
		session: s.model.StartChat(),
	}, nil
}

func toAnswer(resp *genai.GenerateContentResponse) llm.Answer {
	answer := llm.Answer{Content: parseResponse(resp)}
	if resp != nil && resp.UsageMetadata != nil {
		answer.InputToken = int(resp.UsageMetadata.PromptTokenCount)
		answer.OutputToken = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return answer
}

func parseResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var resStr strings.Builder
	for i, part := range resp.Candidates[0].Content.Parts {
		text, ok := part.(genai.Text)
		if !ok {
			continue
		}
		if i > 0 {
			resStr.WriteString("\n")
		}
		resStr.WriteString(string(text))
	}
	return resStr.String()
}
