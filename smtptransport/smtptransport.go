// Package smtptransport delivers email Task payloads over SMTP. It adapts
// the teacher's email.ConnectSMTPWithContext / email.SendWithClient /
// email.SMTPPool (connection dialing, STARTTLS upgrade, pooled reuse with
// health checks) from multi-recipient campaign delivery to Retrack's single
// {to, subject, body} action payload. Per-relay circuit breaking is now the
// Task Queue dispatcher's responsibility (github.com/sony/gobreaker), so the
// pool here keeps only connection lifecycle and health checking.
package smtptransport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/retrack/retrack/config"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/ratelimit"
	"github.com/retrack/retrack/internal/retrackerr"
)

// PoolConfig tunes the SMTP connection pool.
type PoolConfig struct {
	InitialSize         int
	MaxSize             int
	MaxIdleTime         time.Duration
	HealthCheckInterval time.Duration
}

func (c *PoolConfig) setDefaults() {
	if c.InitialSize <= 0 {
		c.InitialSize = 2
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = 5 * time.Minute
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
}

type pooledConn struct {
	client   *smtp.Client
	lastUsed time.Time
}

// Pool manages a small set of long-lived, authenticated SMTP connections.
type Pool struct {
	mu       sync.Mutex
	smtpCfg  config.SMTPConfig
	poolCfg  PoolConfig
	conns    chan *pooledConn
	numConns int
	closed   bool
	stop     chan struct{}
}

// NewPool dials poolCfg.InitialSize connections up front and starts a health
// checker that prunes idle/dead connections.
func NewPool(smtpCfg config.SMTPConfig, poolCfg PoolConfig) (*Pool, error) {
	poolCfg.setDefaults()
	p := &Pool{
		smtpCfg: smtpCfg,
		poolCfg: poolCfg,
		conns:   make(chan *pooledConn, poolCfg.MaxSize),
		stop:    make(chan struct{}),
	}
	for i := 0; i < poolCfg.InitialSize; i++ {
		conn, err := p.dial(context.Background())
		if err != nil {
			p.Close()
			return nil, err
		}
		p.conns <- conn
		p.numConns++
	}
	go p.healthChecker()
	return p, nil
}

// Get returns a live connection, dialing a new one if the pool is empty and
// under capacity.
func (p *Pool) Get(ctx context.Context) (*smtp.Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, retrackerr.New(retrackerr.Terminal, "smtp pool is closed")
	}
	p.mu.Unlock()

	select {
	case conn, ok := <-p.conns:
		if !ok {
			return nil, retrackerr.New(retrackerr.Terminal, "smtp pool is closed")
		}
		if time.Since(conn.lastUsed) > p.poolCfg.MaxIdleTime {
			_ = conn.client.Close()
			return p.dialClient(ctx)
		}
		return conn.client, nil
	default:
		p.mu.Lock()
		if p.numConns >= p.poolCfg.MaxSize {
			p.mu.Unlock()
			select {
			case conn, ok := <-p.conns:
				if !ok {
					return nil, retrackerr.New(retrackerr.Terminal, "smtp pool is closed")
				}
				return conn.client, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		p.numConns++
		p.mu.Unlock()
		return p.dialClient(ctx)
	}
}

// Put returns a connection to the pool, closing it if the pool is full.
func (p *Pool) Put(client *smtp.Client) {
	select {
	case p.conns <- &pooledConn{client: client, lastUsed: time.Now()}:
	default:
		_ = client.Close()
	}
}

// Close shuts down the health checker and every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	close(p.conns)
	for conn := range p.conns {
		_ = conn.client.Close()
	}
}

func (p *Pool) dialClient(ctx context.Context) (*smtp.Client, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn.client, nil
}

func (p *Pool) dial(ctx context.Context) (*pooledConn, error) {
	addr := fmt.Sprintf("%s:%d", p.smtpCfg.Host, p.smtpCfg.Port)
	dialer := &net.Dialer{Timeout: p.smtpCfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "smtp dial")
	}

	client, err := smtp.NewClient(conn, p.smtpCfg.Host)
	if err != nil {
		conn.Close()
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "smtp client init")
	}

	if p.smtpCfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         p.smtpCfg.Host,
				InsecureSkipVerify: p.smtpCfg.InsecureSkipVerify,
				MinVersion:         tls.VersionTLS12,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, retrackerr.Wrap(retrackerr.Transient, err, "smtp starttls")
			}
		}
	}

	if p.smtpCfg.Username != "" {
		auth := smtp.PlainAuth("", p.smtpCfg.Username, p.smtpCfg.Password, p.smtpCfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "smtp auth")
		}
	}

	return &pooledConn{client: client, lastUsed: time.Now()}, nil
}

func (p *Pool) healthChecker() {
	ticker := time.NewTicker(p.poolCfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pruneStaleConns()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) pruneStaleConns() {
	n := len(p.conns)
	for i := 0; i < n; i++ {
		select {
		case conn := <-p.conns:
			if time.Since(conn.lastUsed) > p.poolCfg.MaxIdleTime {
				_ = conn.client.Close()
				p.mu.Lock()
				p.numConns--
				p.mu.Unlock()
				continue
			}
			p.conns <- conn
		default:
			return
		}
	}
}

// Transport delivers email Task payloads via a pooled SMTP connection.
type Transport struct {
	pool    *Pool
	from    string
	limiter *ratelimit.RateLimiter
}

// New builds a Transport over a freshly dialed connection pool, throttled to
// cfg.MaxPerSecond outbound sends (0 = unlimited).
func New(cfg config.SMTPConfig) (*Transport, error) {
	pool, err := NewPool(cfg, PoolConfig{})
	if err != nil {
		return nil, err
	}
	return &Transport{
		pool:    pool,
		from:    cfg.From,
		limiter: ratelimit.NewRateLimiter(cfg.MaxPerSecond, cfg.BurstSize),
	}, nil
}

// Close releases the underlying connection pool.
func (t *Transport) Close() { t.pool.Close() }

// Send delivers one email payload, classifying SMTP-layer failures into the
// core's error taxonomy: permanent bounce codes are Terminal, everything
// else (dial, auth, transient 4xx) is Transient.
func (t *Transport) Send(ctx context.Context, payload model.EmailPayload) error {
	from := strings.TrimSpace(t.from)
	if from == "" {
		return retrackerr.New(retrackerr.Terminal, "smtp sender 'from' is empty")
	}
	to := strings.TrimSpace(payload.To)
	if to == "" {
		return retrackerr.New(retrackerr.Terminal, "email task has no recipient")
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "rate limit wait")
	}

	client, err := t.pool.Get(ctx)
	if err != nil {
		return err
	}
	sendErr := sendWithClient(client, from, to, payload)
	if sendErr != nil {
		_ = client.Close()
		return classifySendError(sendErr)
	}
	t.pool.Put(client)
	return nil
}

func sendWithClient(client *smtp.Client, from, to string, payload model.EmailPayload) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "From: %s\r\n", from)
	fmt.Fprintf(bw, "To: %s\r\n", to)
	fmt.Fprintf(bw, "Subject: %s\r\n", payload.Subject)
	fmt.Fprint(bw, "MIME-Version: 1.0\r\n")
	fmt.Fprint(bw, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	fmt.Fprint(bw, payload.Body)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush smtp writer: %w", err)
	}
	return w.Close()
}

func classifySendError(err error) error {
	msg := err.Error()
	if code := extractSMTPCode(msg); code != "" && strings.HasPrefix(code, "5") {
		return retrackerr.Wrap(retrackerr.Terminal, err, "smtp permanent failure "+code)
	}
	return retrackerr.Wrap(retrackerr.Transient, err, "smtp delivery failed")
}

// extractSMTPCode finds a three-digit SMTP reply code embedded in an error
// message, the same lookup the teacher's worker.go uses to branch retry
// behavior off the server's bounce class.
func extractSMTPCode(msg string) string {
	codes := []string{"421", "450", "451", "452", "500", "550", "551", "552", "553", "554"}
	for _, code := range codes {
		if strings.Contains(msg, code) {
			return code
		}
	}
	return ""
}
