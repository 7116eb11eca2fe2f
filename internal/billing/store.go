package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/models"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrAlreadySettled      = errors.New("ride already settled")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Wallet kinds; each kind is its own ledger table.
const (
	CustomerWallet = "customer"
	DriverWallet   = "driver"
)

const uniqueViolation = "23505"

// Store is the wallet/bill persistence behind settlement. Postgres,
// row-level locks, one transaction per settlement.
type Store struct {
	db *sql.DB

	// EnforceBalance gates the pre-debit sufficiency check. The
	// settlement path historically debits unconditionally (rides are
	// assumed pre-authorized); flipping this corrects that without
	// touching the transaction plumbing.
	EnforceBalance bool
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func NewStoreWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Settle moves ride.Price from the customer wallet to the driver wallet
// and records the bill, all in one transaction. Any failure rolls the
// whole thing back: no partial wallet mutation, no orphan bill. A
// repeated settlement of the same ride hits the unique ride_id
// constraint and returns ErrAlreadySettled.
func (s *Store) Settle(ctx context.Context, ride models.Ride) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock both wallets for the duration of the transaction. Wallets
	// are locked in a fixed order (customer first) so concurrent
	// settlements cannot deadlock.
	var customerBalance float64
	row := tx.QueryRowContext(ctx,
		`SELECT balance FROM customer_wallets WHERE owner_id = $1 FOR UPDATE`, ride.CustomerID)
	if err = row.Scan(&customerBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("customer %s: %w", ride.CustomerID, ErrWalletNotFound)
		}
		return fmt.Errorf("lock customer wallet: %w", err)
	}

	var driverBalance float64
	row = tx.QueryRowContext(ctx,
		`SELECT balance FROM driver_wallets WHERE owner_id = $1 FOR UPDATE`, ride.DriverID)
	if err = row.Scan(&driverBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("driver %s: %w", ride.DriverID, ErrWalletNotFound)
		}
		return fmt.Errorf("lock driver wallet: %w", err)
	}

	if s.EnforceBalance && customerBalance < ride.Price {
		return fmt.Errorf("customer %s balance %.2f < price %.2f: %w",
			ride.CustomerID, customerBalance, ride.Price, ErrInsufficientBalance)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE customer_wallets SET balance = balance - $1 WHERE owner_id = $2`,
		ride.Price, ride.CustomerID); err != nil {
		return fmt.Errorf("debit customer: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE driver_wallets SET balance = balance + $1 WHERE owner_id = $2`,
		ride.Price, ride.DriverID); err != nil {
		return fmt.Errorf("credit driver: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO bills
		   (ride_id, bill_date, pickup_time, dropoff_time, distance_covered,
		    total_amount, pickup_address, dropoff_address, driver_id, customer_id, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ride.ID, ride.CreatedAt, ride.RequestedAt, ride.UpdatedAt, ride.DistanceCovered,
		ride.Price, ride.Pickup.Address, ride.Dropoff.Address, ride.DriverID, ride.CustomerID,
		models.StatusCompleted); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("ride %s: %w", ride.ID, ErrAlreadySettled)
		}
		return fmt.Errorf("insert bill: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	return nil
}

// Balance returns the current balance for a wallet.
func (s *Store) Balance(ctx context.Context, kind, ownerID string) (float64, error) {
	table, err := walletTable(kind)
	if err != nil {
		return 0, err
	}
	var balance float64
	err = s.db.QueryRowContext(ctx,
		`SELECT balance FROM `+table+` WHERE owner_id = $1`, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %s: %w", kind, ownerID, ErrWalletNotFound)
	}
	return balance, err
}

// TopUp credits a wallet. Amount must be positive.
func (s *Store) TopUp(ctx context.Context, kind, ownerID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("top-up amount must be positive, got %.2f", amount)
	}
	table, err := walletTable(kind)
	if err != nil {
		return 0, err
	}
	var balance float64
	err = s.db.QueryRowContext(ctx,
		`UPDATE `+table+` SET balance = balance + $1 WHERE owner_id = $2 RETURNING balance`,
		amount, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %s: %w", kind, ownerID, ErrWalletNotFound)
	}
	return balance, err
}

// Withdraw debits a wallet with a sufficiency check; unlike settlement,
// withdrawals are refused rather than allowed to go negative.
func (s *Store) Withdraw(ctx context.Context, kind, ownerID string, amount float64) (balance float64, err error) {
	if amount <= 0 {
		return 0, fmt.Errorf("withdraw amount must be positive, got %.2f", amount)
	}
	table, err := walletTable(kind)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM `+table+` WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s %s: %w", kind, ownerID, ErrWalletNotFound)
	}
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return 0, fmt.Errorf("balance %.2f < %.2f: %w", balance, amount, ErrInsufficientBalance)
	}
	err = tx.QueryRowContext(ctx,
		`UPDATE `+table+` SET balance = balance - $1 WHERE owner_id = $2 RETURNING balance`,
		amount, ownerID).Scan(&balance)
	if err != nil {
		return 0, err
	}
	err = tx.Commit()
	return balance, err
}

// CanAfford reports whether a customer wallet covers the amount.
func (s *Store) CanAfford(ctx context.Context, ownerID string, amount float64) (bool, float64, error) {
	balance, err := s.Balance(ctx, CustomerWallet, ownerID)
	if err != nil {
		return false, 0, err
	}
	return balance >= amount, balance, nil
}

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func walletTable(kind string) (string, error) {
	switch kind {
	case CustomerWallet:
		return "customer_wallets", nil
	case DriverWallet:
		return "driver_wallets", nil
	}
	return "", fmt.Errorf("unknown wallet kind %q", kind)
}
