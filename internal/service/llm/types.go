package llm

import (
	"context"
)

type Question struct {
	// System 系统指令，为空时使用模型默认设定
	System  string
	Content string
}

type Answer struct {
	Content     string
	InputToken  int
	OutputToken int
}

func (a Answer) TotalToken() int {
	return a.InputToken + a.OutputToken
}

type Session interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// Service 策略只依赖这个接口，测试里用 mock 替换
type Service interface {
	AskOnce(ctx context.Context, q Question) (Answer, error)
	BeginChat(ctx context.Context) (Session, error)
}
