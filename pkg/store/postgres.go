package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Storage on PostgreSQL. Payment transactions lock
// the loan row with SELECT ... FOR UPDATE, so payments against different
// loans never wait on each other.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects using a lib/pq connection string and initializes the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &PostgresStore{sqlStore{db: db, q: postgresQueries}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist. payments.seq
// only exists to order payments that share a payment_date.
func (s *PostgresStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS loans (
		loan_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(customer_id),
		principal_amount NUMERIC NOT NULL,
		total_amount NUMERIC NOT NULL,
		interest_rate NUMERIC NOT NULL,
		loan_period_years INTEGER NOT NULL,
		monthly_emi NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE TABLE IF NOT EXISTS payments (
		payment_id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		loan_id TEXT NOT NULL REFERENCES loans(loan_id),
		amount NUMERIC NOT NULL,
		payment_type TEXT NOT NULL,
		payment_date TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id, payment_date, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

var postgresQueries = queries{
	ensureCustomer: `INSERT INTO customers (customer_id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (customer_id) DO NOTHING`,
	createLoan: `INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	getLoan:          `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = $1`,
	lockLoan:         `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = $1 FOR UPDATE`,
	loansForCustomer: `SELECT ` + loanColumns + ` FROM loans WHERE customer_id = $1 ORDER BY created_at ASC, loan_id ASC`,
	paymentsForLoan:  `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = $1 ORDER BY payment_date ASC, seq ASC`,
	createPayment: `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5)`,
	updateLoanStatus: `UPDATE loans SET status = $1 WHERE loan_id = $2`,
}
