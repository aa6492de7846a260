package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendingLedger/pkg/models"
	"github.com/mcclellann/lendingLedger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultOverviewConcurrency = 4

// Ledger handles the business logic for loans and payments.
type Ledger struct {
	storage             store.Storage
	logger              *logrus.Logger
	now                 func() time.Time
	overviewConcurrency int
}

type Option func(*Ledger)

// WithClock replaces the clock used to stamp loans and payments.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithOverviewConcurrency bounds how many loans an overview reads at once.
func WithOverviewConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.overviewConcurrency = n
		}
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *logrus.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:             s,
		logger:              logger,
		now:                 time.Now,
		overviewConcurrency: defaultOverviewConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateLoanRequest carries the validated inputs of a new loan.
type CreateLoanRequest struct {
	CustomerID   string
	LoanAmount   decimal.Decimal
	PeriodYears  int
	InterestRate decimal.Decimal // annual percentage
}

func (r CreateLoanRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.CustomerID) == "":
		return fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	case !r.LoanAmount.IsPositive():
		return fmt.Errorf("%w: loan_amount must be positive", ErrInvalidInput)
	case r.PeriodYears < 1:
		return fmt.Errorf("%w: loan_period_years must be at least 1", ErrInvalidInput)
	case r.InterestRate.IsNegative():
		return fmt.Errorf("%w: interest_rate_yearly must not be negative", ErrInvalidInput)
	}
	return nil
}

type PaymentRequest struct {
	Amount decimal.Decimal
	Type   models.PaymentType
}

func (r PaymentRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: payment_type must be %s or %s", ErrInvalidInput, models.PaymentTypeEMI, models.PaymentTypeLumpSum)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

// ParseLoanID parses a loan id taken from a request. An id that cannot
// name any loan is reported as not found.
func ParseLoanID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: loan %q", ErrNotFound, s)
	}
	return id, nil
}

// PlaceholderCustomerName is the name given to customers provisioned on their first loan.
func PlaceholderCustomerName(customerID string) string {
	return "Customer " + customerID
}

// CreateLoan initializes a new loan for a customer, provisioning the
// customer record first if it does not exist yet.
func (l *Ledger) CreateLoan(ctx context.Context, req CreateLoanRequest) (*models.LoanSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Provisioning is best effort. If it fails the loan insert below reports
	// the real problem.
	created, err := l.storage.EnsureCustomer(ctx, req.CustomerID, PlaceholderCustomerName(req.CustomerID))
	if err != nil {
		l.logger.WithError(err).WithField("customer_id", req.CustomerID).Warn("Could not provision customer")
	} else if created {
		l.logger.WithField("customer_id", req.CustomerID).Info("Provisioned new customer")
	}

	plan := Compute(req.LoanAmount, req.PeriodYears, req.InterestRate)
	loan := &models.Loan{
		ID:              uuid.New(),
		CustomerID:      req.CustomerID,
		PrincipalAmount: req.LoanAmount,
		TotalAmount:     plan.TotalAmount,
		InterestRate:    req.InterestRate,
		PeriodYears:     req.PeriodYears,
		MonthlyEMI:      plan.MonthlyEMI,
		Status:          models.LoanStatusActive,
		CreatedAt:       l.now().UTC(),
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		l.logger.WithError(err).WithField("customer_id", req.CustomerID).Error("Failed to store loan")
		return nil, fmt.Errorf("%w: failed to store loan: %w", ErrStorage, err)
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":     loan.ID,
		"customer_id": loan.CustomerID,
		"total":       loan.TotalAmount.StringFixed(2),
		"emi":         loan.MonthlyEMI.StringFixed(2),
	}).Info("Loan created")

	return &models.LoanSummary{
		LoanID:             loan.ID,
		CustomerID:         loan.CustomerID,
		TotalAmountPayable: plan.TotalAmount,
		MonthlyEMI:         plan.MonthlyEMI,
		TotalInterest:      plan.Interest,
	}, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, storageErr(err, "failed to get loan")
	}
	return loan, nil
}

// RecordPayment applies a payment to a loan. The balance check, the payment
// insert and the status change happen in one transaction with the loan row
// locked, so concurrent payments on the same loan are applied one at a time.
func (l *Ledger) RecordPayment(ctx context.Context, loanID uuid.UUID, req PaymentRequest) (*models.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *models.PaymentResult
	err := l.storage.WithLoanLocked(ctx, loanID, func(tx store.LoanTx) error {
		loan := tx.Loan()
		if loan.Status == models.LoanStatusPaidOff {
			return fmt.Errorf("%w: loan %s is already paid off", ErrInvalidState, loan.ID)
		}

		payments, err := tx.GetPayments(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		paidTillDate := sumPayments(payments)

		remaining := loan.TotalAmount.Sub(paidTillDate).Sub(req.Amount)
		status := models.LoanStatusActive
		if !remaining.IsPositive() {
			remaining = decimal.Zero
			status = models.LoanStatusPaidOff
		}

		paymentDate := l.now().UTC()
		if n := len(payments); n > 0 && payments[n-1].PaymentDate.After(paymentDate) {
			paymentDate = payments[n-1].PaymentDate
		}

		payment := &models.Payment{
			ID:          uuid.New(),
			LoanID:      loan.ID,
			Amount:      req.Amount,
			Type:        req.Type,
			PaymentDate: paymentDate,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		if err := tx.UpdateLoanStatus(ctx, status); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}

		message := "Payment recorded successfully"
		if status == models.LoanStatusPaidOff {
			message = "Payment recorded successfully. Loan is fully paid off"
		}
		result = &models.PaymentResult{
			PaymentID:        payment.ID,
			LoanID:           loan.ID,
			Message:          message,
			RemainingBalance: remaining,
			EMIsLeft:         EMIsLeft(remaining, loan.MonthlyEMI),
			Status:           status,
		}
		return nil
	})
	if err != nil {
		entry := l.logger.WithError(err).WithField("loan_id", loanID)
		if errors.Is(err, ErrStorage) {
			entry.Error("Payment rolled back")
		} else {
			entry.Warn("Payment rejected")
		}
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, storageErr(err, "failed to record payment")
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":    loanID,
		"payment_id": result.PaymentID,
		"amount":     req.Amount.String(),
		"type":       req.Type,
		"remaining":  result.RemainingBalance.StringFixed(2),
		"status":     result.Status,
	}).Info("Payment recorded")
	return result, nil
}

// GetLedger returns the loan's position and its payments in ledger order.
// It never changes the loan's status.
func (l *Ledger) GetLedger(ctx context.Context, loanID uuid.UUID) (*models.LoanLedger, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, storageErr(err, "failed to get loan")
	}

	payments, err := l.storage.GetPaymentsForLoan(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get payments: %w", ErrStorage, err)
	}
	if payments == nil {
		payments = []*models.Payment{}
	}

	return &models.LoanLedger{
		LoanPosition: *position(loan, payments),
		Transactions: payments,
	}, nil
}

// GetOverview returns the position of every loan of a customer. Loans are
// read concurrently and reported in the order the store returned them.
func (l *Ledger) GetOverview(ctx context.Context, customerID string) (*models.CustomerOverview, error) {
	loans, err := l.storage.GetLoansForCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get loans: %w", ErrStorage, err)
	}
	if len(loans) == 0 {
		return nil, fmt.Errorf("%w: no loans for customer %q", ErrNotFound, customerID)
	}

	positions := make([]*models.LoanPosition, len(loans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.overviewConcurrency)
	for i, loan := range loans {
		i, loan := i, loan
		g.Go(func() error {
			payments, err := l.storage.GetPaymentsForLoan(gctx, loan.ID)
			if err != nil {
				return fmt.Errorf("%w: failed to get payments for loan %s: %w", ErrStorage, loan.ID, err)
			}
			positions[i] = position(loan, payments)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.CustomerOverview{
		CustomerID: customerID,
		TotalLoans: len(positions),
		Loans:      positions,
	}, nil
}

// position derives the read-side figures of a loan. The persisted
// TotalAmount is the only source of the amount owed.
func position(loan *models.Loan, payments []*models.Payment) *models.LoanPosition {
	paid := sumPayments(payments)
	balance := decimal.Max(decimal.Zero, loan.TotalAmount.Sub(paid))
	return &models.LoanPosition{
		LoanID:          loan.ID,
		CustomerID:      loan.CustomerID,
		PrincipalAmount: loan.PrincipalAmount,
		InterestRate:    loan.InterestRate,
		PeriodYears:     loan.PeriodYears,
		TotalInterest:   loan.TotalAmount.Sub(loan.PrincipalAmount),
		TotalAmount:     loan.TotalAmount,
		MonthlyEMI:      loan.MonthlyEMI,
		AmountPaid:      paid,
		BalanceAmount:   balance,
		EMIsLeft:        EMIsLeft(balance, loan.MonthlyEMI),
		Status:          loan.Status,
		CreatedAt:       loan.CreatedAt,
	}
}

func sumPayments(payments []*models.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// storageErr maps a store error onto the taxonomy.
func storageErr(err error, msg string) error {
	if errors.Is(err, store.ErrLoanNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, msg, err)
}
