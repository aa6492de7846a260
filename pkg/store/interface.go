package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/lendingLedger/pkg/models"
)

// ErrLoanNotFound is returned when a loan id has no row.
var ErrLoanNotFound = errors.New("loan not found")

// Storage defines the interface for database operations related to customers, loans and payments.
type Storage interface {
	// EnsureCustomer creates the customer with the given name unless a row
	// for id already exists. It reports whether a row was created.
	EnsureCustomer(ctx context.Context, id, name string) (bool, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetLoansForCustomer(ctx context.Context, customerID string) ([]*models.Loan, error)

	// GetPaymentsForLoan returns payments ordered by payment date, ties
	// broken by insertion order.
	GetPaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)

	// WithLoanLocked runs fn in a single transaction holding an exclusive
	// lock on the loan row. The transaction commits only if fn returns nil;
	// fn's error is returned unchanged.
	WithLoanLocked(ctx context.Context, loanID uuid.UUID, fn func(tx LoanTx) error) error

	Close() error
}

// LoanTx is the view of a locked loan inside WithLoanLocked.
type LoanTx interface {
	Loan() *models.Loan
	GetPayments(ctx context.Context) ([]*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdateLoanStatus(ctx context.Context, status models.LoanStatus) error
}
