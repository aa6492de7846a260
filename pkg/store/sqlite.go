package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
//
// SQLite has no row locks, so every transaction is opened with BEGIN
// IMMEDIATE and holds the database write lock until it ends. Concurrent
// payment transactions wait on the busy timeout instead of failing.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (or creates) the database file at path and initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")
	dsn := fmt.Sprintf("file:%s?%s", path, params.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{sqlStore{db: db, q: sqliteQueries}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS loans (
		loan_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		loan_period_years INTEGER NOT NULL,
		monthly_emi TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(customer_id) REFERENCES customers(customer_id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE TABLE IF NOT EXISTS payments (
		payment_id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		payment_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(loan_id) REFERENCES loans(loan_id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id, payment_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

var sqliteQueries = queries{
	ensureCustomer: `INSERT INTO customers (customer_id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(customer_id) DO NOTHING`,
	createLoan: `INSERT INTO loans (` + loanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	getLoan: `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = ?`,
	// The IMMEDIATE transaction already holds the write lock.
	lockLoan:         `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = ?`,
	loansForCustomer: `SELECT ` + loanColumns + ` FROM loans WHERE customer_id = ? ORDER BY created_at ASC, rowid ASC`,
	paymentsForLoan:  `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = ? ORDER BY payment_date ASC, rowid ASC`,
	createPayment: `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?)`,
	updateLoanStatus: `UPDATE loans SET status = ? WHERE loan_id = ?`,
}
