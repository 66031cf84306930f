package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// 错误定义
var (
	ErrQueueFull = errors.New("mail queue full")
)

// Mailer 邮件发送接口
type Mailer interface {
	Send(to, subject, body string) error
}

// Config SMTP 配置
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	QueueSize   int
	IdleTimeout time.Duration
}

type dialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPMailer 通过队列异步发送邮件
// 首次发送时建立连接，空闲超过 IdleTimeout 后断开
type SMTPMailer struct {
	logger      *zap.Logger
	from        string
	dialer      dialer
	idleTimeout time.Duration
	queue       chan *gomail.Message
}

// NewSMTPMailer 创建 SMTP 发送器，需调用 Run 启动发送协程
func NewSMTPMailer(cfg Config, logger *zap.Logger) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return newSMTPMailer(cfg, d, logger)
}

func newSMTPMailer(cfg Config, d dialer, logger *zap.Logger) *SMTPMailer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &SMTPMailer{
		logger:      logger,
		from:        cfg.From,
		dialer:      d,
		idleTimeout: cfg.IdleTimeout,
		queue:       make(chan *gomail.Message, cfg.QueueSize),
	}
}

// Send 将邮件放入发送队列，队列满时返回 ErrQueueFull
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	select {
	case m.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run 发送协程，ctx 取消后发完队列中剩余邮件再退出
func (m *SMTPMailer) Run(ctx context.Context) {
	var s gomail.SendCloser
	defer func() {
		if s != nil {
			if err := s.Close(); err != nil {
				m.logger.Warn("Failed to close smtp connection", zap.Error(err))
			}
		}
	}()

	idle := time.NewTimer(m.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case msg := <-m.queue:
			var err error
			if s, err = m.deliver(s, msg); err != nil {
				m.logger.Error("Send mail process error", zap.Error(err))
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.idleTimeout)

		case <-idle.C:
			if s != nil {
				if err := s.Close(); err != nil {
					m.logger.Warn("Failed to close idle smtp connection", zap.Error(err))
				}
				s = nil
			}
			idle.Reset(m.idleTimeout)

		case <-ctx.Done():
			for {
				select {
				case msg := <-m.queue:
					var err error
					if s, err = m.deliver(s, msg); err != nil {
						m.logger.Error("Send mail process error", zap.Error(err))
					}
				default:
					return
				}
			}
		}
	}
}

// deliver 按需拨号并发送，发送失败时丢弃连接以便下次重连
func (m *SMTPMailer) deliver(s gomail.SendCloser, msg *gomail.Message) (gomail.SendCloser, error) {
	if s == nil {
		var err error
		if s, err = m.dialer.Dial(); err != nil {
			return nil, fmt.Errorf("dial smtp server: %w", err)
		}
	}
	if err := gomail.Send(s, msg); err != nil {
		s.Close()
		return nil, fmt.Errorf("send email %v: %w", msg.GetHeader("To"), err)
	}
	return s, nil
}

// LogMailer 未配置 SMTP 时使用，只记录日志
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer 创建日志发送器
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send 记录邮件内容
func (m *LogMailer) Send(to, subject, body string) error {
	m.logger.Info("SMTP not configured, mail not sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}
