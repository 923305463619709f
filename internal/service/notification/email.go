package notification

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type sendFunc func(ctx context.Context, msgs ...*mail.Msg) error

type SmtpEmailService struct {
	cfg  EmailConfig
	send sendFunc
}

var _ EmailService = (*SmtpEmailService)(nil)

func NewSmtpEmailService(cfg EmailConfig) (*SmtpEmailService, error) {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("new smtp client %s: %w", cfg.Host, err)
	}
	return &SmtpEmailService{cfg: cfg, send: client.DialAndSendWithContext}, nil
}

func (s *SmtpEmailService) SendText(ctx context.Context, to, subject, body string) error {
	return s.deliver(ctx, to, subject, mail.TypeTextPlain, body)
}

func (s *SmtpEmailService) SendHTML(ctx context.Context, to, subject, body string) error {
	return s.deliver(ctx, to, subject, mail.TypeTextHTML, body)
}

// message 主题和正文由 go-mail 编码，地址按 RFC 5322 校验
func (s *SmtpEmailService) message(to, subject string, contentType mail.ContentType, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", s.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("invalid to address %q: %w", to, err)
	}
	m.Subject(subject)
	m.SetDate()
	m.SetBodyString(contentType, body)
	return m, nil
}

func (s *SmtpEmailService) deliver(ctx context.Context, to, subject string, contentType mail.ContentType, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.message(to, subject, contentType, body)
	if err != nil {
		return err
	}
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// logEmailService 未配置 smtp 时只打日志
type logEmailService struct {
	logger *zap.Logger
}

func NewLogEmailService(logger *zap.Logger) EmailService {
	return &logEmailService{logger: logger}
}

func (s *logEmailService) SendText(ctx context.Context, to, subject, body string) error {
	s.logger.Info("email", zap.String("to", to), zap.String("subject", subject), zap.String("body", body))
	return nil
}

func (s *logEmailService) SendHTML(ctx context.Context, to, subject, body string) error {
	return s.SendText(ctx, to, subject, body)
}
