package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/kirinyoku/eventpay/internal/metrics"
)

const defaultSMTPTimeout = 15 * time.Second

var ErrPoolClosed = errors.New("smtp pool closed")

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// ImplicitTLS dials TLS directly; otherwise STARTTLS is negotiated when offered.
	ImplicitTLS bool
	// Timeout bounds the dial and every send.
	Timeout time.Duration
}

// session is the subset of *smtp.Client the pool drives, plus a connection deadline.
type session interface {
	Noop() error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
	SetDeadline(t time.Time) error
}

// DialFunc opens an authenticated SMTP session.
type DialFunc func(ctx context.Context) (session, error)

type netSession struct {
	*smtp.Client
	conn net.Conn
}

func (s *netSession) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SMTPPool keeps one SMTP connection open and shares it between senders.
// The connection is dialed on first use and redialed after Reset or a failed NOOP.
type SMTPPool struct {
	mu      sync.Mutex
	sess    session
	closed  bool
	dial    DialFunc
	timeout time.Duration
	logger  *slog.Logger
}

func NewSMTPPool(cfg SMTPConfig, logger *slog.Logger) *SMTPPool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	return newSMTPPool(dialer(cfg), cfg.Timeout, logger)
}

func newSMTPPool(dial DialFunc, timeout time.Duration, logger *slog.Logger) *SMTPPool {
	return &SMTPPool{
		dial:    dial,
		timeout: timeout,
		logger:  logger.With("component", "smtp_pool"),
	}
}

// Send delivers a ready MIME message to the recipients.
func (p *SMTPPool) Send(ctx context.Context, from string, to []string, msg []byte) error {
	const op = "notification.SMTPPool.Send"

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sess, err := p.session(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := sess.SetDeadline(p.deadline(ctx)); err != nil {
		return fmt.Errorf("%s: set deadline: %w", op, err)
	}

	if err := sess.Mail(from); err != nil {
		return fmt.Errorf("%s: MAIL FROM: %w", op, err)
	}

	for _, rcpt := range to {
		if err := sess.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%s: RCPT TO %s: %w", op, rcpt, err)
		}
	}

	w, err := sess.Data()
	if err != nil {
		return fmt.Errorf("%s: DATA: %w", op, err)
	}

	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("%s: write body: %w", op, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: end DATA: %w", op, err)
	}

	return nil
}

// Reset drops the current connection; the next Send dials a fresh one.
func (p *SMTPPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drop()
}

// Close sends QUIT on the open connection and refuses further sends.
func (p *SMTPPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.sess == nil {
		return nil
	}

	_ = p.sess.SetDeadline(time.Now().Add(p.timeout))
	err := p.sess.Quit()
	if err != nil {
		_ = p.sess.Close()
	}
	p.sess = nil

	return err
}

// session returns a live connection, dialing when there is none or the old one
// fails a NOOP. Caller holds p.mu.
func (p *SMTPPool) session(ctx context.Context) (session, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}

	if p.sess != nil {
		_ = p.sess.SetDeadline(p.deadline(ctx))
		if err := p.sess.Noop(); err == nil {
			return p.sess, nil
		}
		p.logger.Info("smtp connection went stale, redialing")
		p.drop()
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sess, err := p.dial(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	metrics.SMTPReconnects.Inc()
	p.sess = sess

	return sess, nil
}

func (p *SMTPPool) drop() {
	if p.sess == nil {
		return
	}

	_ = p.sess.Close()
	p.sess = nil
}

func (p *SMTPPool) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(p.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func dialer(cfg SMTPConfig) DialFunc {
	return func(ctx context.Context) (session, error) {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		tlsCfg := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

		d := &net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}

		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(dl)
		}

		if cfg.ImplicitTLS {
			tc := tls.Client(conn, tlsCfg)
			if err := tc.HandshakeContext(ctx); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("tls handshake: %w", err)
			}
			conn = tc
		}

		c, err := smtp.NewClient(conn, cfg.Host)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}

		if !cfg.ImplicitTLS {
			if ok, _ := c.Extension("STARTTLS"); ok {
				if err := c.StartTLS(tlsCfg); err != nil {
					_ = c.Close()
					return nil, fmt.Errorf("starttls: %w", err)
				}
			}
		}

		if cfg.User != "" {
			if err := c.Auth(smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)); err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("auth: %w", err)
			}
		}

		return &netSession{Client: c, conn: conn}, nil
	}
}
