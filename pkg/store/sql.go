package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendingLedger/pkg/models"
)

const (
	loanColumns    = `loan_id, customer_id, principal_amount, total_amount, interest_rate, loan_period_years, monthly_emi, status, created_at`
	paymentColumns = `payment_id, loan_id, amount, payment_type, payment_date`
)

// queries holds the dialect-specific statements used by sqlStore.
type queries struct {
	ensureCustomer   string
	createLoan       string
	getLoan          string
	lockLoan         string
	loansForCustomer string
	paymentsForLoan  string
	createPayment    string
	updateLoanStatus string
}

// sqlStore implements Storage on top of database/sql. The SQLite and
// PostgreSQL stores embed it and only differ in statements and schema.
type sqlStore struct {
	db *sql.DB
	q  queries
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	err := row.Scan(&loan.ID, &loan.CustomerID, &loan.PrincipalAmount, &loan.TotalAmount, &loan.InterestRate, &loan.PeriodYears, &loan.MonthlyEMI, &loan.Status, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}
	loan.CreatedAt = loan.CreatedAt.UTC()
	return &loan, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var payment models.Payment
	err := row.Scan(&payment.ID, &payment.LoanID, &payment.Amount, &payment.Type, &payment.PaymentDate)
	if err != nil {
		return nil, err
	}
	payment.PaymentDate = payment.PaymentDate.UTC()
	return &payment, nil
}

// EnsureCustomer inserts the customer unless it already exists.
func (s *sqlStore) EnsureCustomer(ctx context.Context, id, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q.ensureCustomer, id, name, nowUTC())
	if err != nil {
		return false, fmt.Errorf("failed to ensure customer %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CreateLoan inserts a new loan into the database.
func (s *sqlStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx, s.q.createLoan,
		loan.ID, loan.CustomerID, loan.PrincipalAmount, loan.TotalAmount, loan.InterestRate, loan.PeriodYears, loan.MonthlyEMI, string(loan.Status), loan.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *sqlStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.db.QueryRowContext(ctx, s.q.getLoan, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetLoansForCustomer retrieves every loan of a customer, oldest first.
func (s *sqlStore) GetLoansForCustomer(ctx context.Context, customerID string) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, s.q.loansForCustomer, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// GetPaymentsForLoan retrieves all payments for a given loan ID in ledger order.
func (s *sqlStore) GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	return queryPayments(ctx, s.db, s.q.paymentsForLoan, loanID)
}

// WithLoanLocked locks the loan row and runs fn inside one transaction.
func (s *sqlStore) WithLoanLocked(ctx context.Context, loanID uuid.UUID, fn func(tx LoanTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := scanLoan(tx.QueryRowContext(ctx, s.q.lockLoan, loanID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLoanNotFound
		}
		return fmt.Errorf("failed to lock loan %s: %w", loanID, err)
	}

	if err := fn(&sqlLoanTx{tx: tx, loan: loan, q: &s.q}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type sqlLoanTx struct {
	tx   *sql.Tx
	loan *models.Loan
	q    *queries
}

func (t *sqlLoanTx) Loan() *models.Loan {
	return t.loan
}

func (t *sqlLoanTx) GetPayments(ctx context.Context) ([]*models.Payment, error) {
	return queryPayments(ctx, t.tx, t.q.paymentsForLoan, t.loan.ID)
}

func (t *sqlLoanTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := t.tx.ExecContext(ctx, t.q.createPayment,
		payment.ID, payment.LoanID, payment.Amount, string(payment.Type), payment.PaymentDate.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (t *sqlLoanTx) UpdateLoanStatus(ctx context.Context, status models.LoanStatus) error {
	result, err := t.tx.ExecContext(ctx, t.q.updateLoanStatus, string(status), t.loan.ID)
	if err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	t.loan.Status = status
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryPayments(ctx context.Context, q querier, query string, loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := q.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}
