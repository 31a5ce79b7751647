package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/config"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// AuditEntry is one row of the waitlist_audit table: the disposition of a
// single submission attempt, whether it was accepted or rejected and why.
type AuditEntry struct {
	Timestamp time.Time
	RequestID string
	IP        string
	Email     string
	Outcome   string
	LeadID    int64
}

// AuditSink records submission attempts in ClickHouse for offline analysis.
// Optional infrastructure: callers treat insert failures as non-fatal.
type AuditSink struct {
	conn driver.Conn
}

func NewAuditSink(cfg *config.Config) (*AuditSink, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") {
		opts.TLS = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse audit sink initialized",
		zap.String("url", chConfig.URL),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &AuditSink{conn: conn}, nil
}

// Record inserts one audit row.
func (s *AuditSink) Record(ctx context.Context, entry AuditEntry) error {
	err := s.conn.Exec(ctx,
		`INSERT INTO waitlist_audit (ts, request_id, ip, email, outcome, lead_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp,
		entry.RequestID,
		entry.IP,
		entry.Email,
		entry.Outcome,
		entry.LeadID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit row: %w", err)
	}
	return nil
}

func (s *AuditSink) Close() error {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			util.Error("failed to close ClickHouse audit sink", zap.Error(err))
			return err
		}
		util.Info("ClickHouse audit sink closed")
	}
	return nil
}

func extractHostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if u.Port() == "" {
		if u.Scheme == "https" {
			return u.Hostname() + ":9440"
		}
		return u.Hostname() + ":9000"
	}
	return u.Host
}

func extractHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
