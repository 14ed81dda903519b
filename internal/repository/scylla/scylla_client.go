package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"security-service/internal/config"
	"security-service/internal/util"
)

// Statements holds the CQL used by the repositories. Each call builds a
// fresh query from the text because a *gocql.Query is not safe for
// concurrent use; gocql's session-level prepared-statement cache keeps
// per-call construction cheap.
type Statements struct {
	CreateOTP           string
	GetActiveOTPs       string
	InvalidateOTPs      string
	IncrementOTPAttempt string
	MarkOTPVerified     string
	CreateAccount       string
	GetAccountByEmail   string
}

var stmts = Statements{
	CreateOTP: `
        INSERT INTO otp_codes (
            email_bucket, email_hash, purpose, otp_id, email_encrypted, email_key_id,
            code_hash, code_salt, pepper_version, owner_ref, attempts, max_attempts,
            expires_at, verified, verified_at, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

	GetActiveOTPs: `
        SELECT email_bucket, email_hash, purpose, otp_id, email_encrypted, email_key_id,
            code_hash, code_salt, pepper_version, owner_ref, attempts, max_attempts,
            expires_at, verified, verified_at, created_at
        FROM otp_codes WHERE email_bucket = ? AND email_hash = ? AND purpose = ?`,

	InvalidateOTPs: `
        DELETE FROM otp_codes WHERE email_bucket = ? AND email_hash = ? AND purpose = ?`,

	// Conditional update so concurrent wrong guesses never push the
	// counter past max_attempts.
	IncrementOTPAttempt: `
        UPDATE otp_codes SET attempts = ?
        WHERE email_bucket = ? AND email_hash = ? AND purpose = ? AND otp_id = ?
        IF attempts = ? AND verified = false`,

	MarkOTPVerified: `
        UPDATE otp_codes SET verified = true, verified_at = ?
        WHERE email_bucket = ? AND email_hash = ? AND purpose = ? AND otp_id = ?
        IF verified = false`,

	CreateAccount: `
        INSERT INTO accounts (
            email_bucket, email_hash, account_id, email_encrypted, email_key_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?)`,

	GetAccountByEmail: `
        SELECT email_bucket, email_hash, account_id, email_encrypted, email_key_id, created_at
        FROM accounts WHERE email_bucket = ? AND email_hash = ?`,
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
