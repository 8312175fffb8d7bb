package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/frankchat/tokengate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound           = errors.New("wallet not found")
	ErrInsufficientTokens = errors.New("insufficient tokens")
)

// Store is the token ledger backed by Postgres.
type Store struct {
	db *pgxpool.Pool
}

// New opens the connection pool. The initial ping is retried so the server
// survives the database coming up a few seconds after it.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Attempts(5),
		retry.Delay(time.Second),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// GetAccount retrieves a single wallet account.
func (s *Store) GetAccount(ctx context.Context, wallet string) (*models.WalletAccount, error) {
	acc := models.WalletAccount{WalletAddress: wallet}
	err := s.db.QueryRow(ctx,
		"SELECT tokens_owned FROM user_tokens WHERE wallet_address = $1",
		wallet).Scan(&acc.TokensOwned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	return &acc, nil
}

// EnsureAccount creates the wallet's account with a zero balance if it does
// not exist yet. Idempotent.
func (s *Store) EnsureAccount(ctx context.Context, wallet string) (*models.WalletAccount, error) {
	acc := models.WalletAccount{WalletAddress: wallet}
	err := s.db.QueryRow(ctx,
		`INSERT INTO user_tokens (wallet_address, tokens_owned) VALUES ($1, 0)
		 ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		 RETURNING tokens_owned`,
		wallet).Scan(&acc.TokensOwned)
	if err != nil {
		return nil, fmt.Errorf("account upsert failed: %w", err)
	}
	return &acc, nil
}

// SpendToken reserves one credit with a single conditional decrement. Two
// concurrent spends against a balance of 1 cannot both succeed: the WHERE
// clause admits exactly one.
func (s *Store) SpendToken(ctx context.Context, wallet string) (*models.WalletAccount, error) {
	acc := models.WalletAccount{WalletAddress: wallet}
	err := s.db.QueryRow(ctx,
		`UPDATE user_tokens SET tokens_owned = tokens_owned - 1
		 WHERE wallet_address = $1 AND tokens_owned > 0
		 RETURNING tokens_owned`,
		wallet).Scan(&acc.TokensOwned)
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token decrement failed: %w", err)
	}

	// Zero rows: either the wallet is unknown or the balance is exhausted.
	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_tokens WHERE wallet_address = $1)",
		wallet).Scan(&exists); err != nil {
		return nil, fmt.Errorf("account probe failed: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrInsufficientTokens
}

// RefundToken releases a reservation taken by SpendToken.
func (s *Store) RefundToken(ctx context.Context, wallet string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE user_tokens SET tokens_owned = tokens_owned + 1 WHERE wallet_address = $1",
		wallet)
	if err != nil {
		return fmt.Errorf("token refund failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GrantTokens adds credits to a wallet, creating the account if needed.
func (s *Store) GrantTokens(ctx context.Context, wallet string, amount int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_tokens (wallet_address, tokens_owned) VALUES ($1, $2)
		 ON CONFLICT (wallet_address) DO UPDATE SET tokens_owned = user_tokens.tokens_owned + EXCLUDED.tokens_owned`,
		wallet, amount)
	if err != nil {
		return fmt.Errorf("token grant failed: %w", err)
	}
	return nil
}

// RecordPayment stores a pending credit for a gateway payment session.
func (s *Store) RecordPayment(ctx context.Context, paymentID, wallet string, tokens int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO payments (payment_id, wallet_address, token_amount, credited)
		 VALUES ($1, $2, $3, false)
		 ON CONFLICT (payment_id) DO NOTHING`,
		paymentID, wallet, tokens)
	if err != nil {
		return fmt.Errorf("payment record failed: %w", err)
	}
	return nil
}

// CreditPayment grants the tokens attached to a finished payment, at most
// once. The credited flag is flipped and the balance updated inside one
// transaction, so a replayed status poll cannot double-credit.
func (s *Store) CreditPayment(ctx context.Context, paymentID string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var wallet string
	var tokens int64
	err = tx.QueryRow(ctx,
		`UPDATE payments SET credited = true
		 WHERE payment_id = $1 AND NOT credited
		 RETURNING wallet_address, token_amount`,
		paymentID).Scan(&wallet, &tokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Unknown payment or already credited.
			return false, nil
		}
		return false, fmt.Errorf("payment credit flip failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_tokens (wallet_address, tokens_owned) VALUES ($1, $2)
		 ON CONFLICT (wallet_address) DO UPDATE SET tokens_owned = user_tokens.tokens_owned + EXCLUDED.tokens_owned`,
		wallet, tokens)
	if err != nil {
		return false, fmt.Errorf("payment credit grant failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, nil
}
