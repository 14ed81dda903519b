package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/util"
)

// ErrAccountNotFound means no account row exists for the email hash.
var ErrAccountNotFound = errors.New("account not found")

type AccountRepository struct {
	client *ScyllaClient
}

func NewAccountRepository(client *ScyllaClient, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		client: client,
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.AccountID == "" {
		account.AccountID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := r.client.Query(stmts.CreateAccount,
		account.EmailBucket, account.EmailHash, account.AccountID,
		account.EmailEncrypted, account.EmailKeyID, account.CreatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created", zap.String("account_id", account.AccountID))
	return nil
}

// FindByEmail looks up an account through its email hash. Used to decide
// whether a password reset request has an owner.
func (r *AccountRepository) FindByEmail(ctx context.Context, emailBucket int, emailHash string) (*models.Account, error) {
	account := &models.Account{}

	query := r.client.Query(stmts.GetAccountByEmail, emailBucket, emailHash).
		WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&account.EmailBucket, &account.EmailHash, &account.AccountID,
		&account.EmailEncrypted, &account.EmailKeyID, &account.CreatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to find account by email", zap.Error(err))
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	return account, nil
}
