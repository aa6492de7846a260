package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendingLedger/pkg/models"
	"github.com/shopspring/decimal"
)

// The functions below run against any Storage so that the SQLite and
// PostgreSQL stores are held to the same behaviour.

func newTestLoan(customerID string) *models.Loan {
	return &models.Loan{
		ID:              uuid.New(),
		CustomerID:      customerID,
		PrincipalAmount: decimal.NewFromInt(10000),
		TotalAmount:     decimal.NewFromInt(11000),
		InterestRate:    decimal.NewFromInt(5),
		PeriodYears:     2,
		MonthlyEMI:      decimal.RequireFromString("458.3333333333333333"),
		Status:          models.LoanStatusActive,
		CreatedAt:       time.Now().UTC(),
	}
}

func mustCreateLoan(t *testing.T, s Storage, customerID string) *models.Loan {
	t.Helper()
	ctx := context.Background()
	if _, err := s.EnsureCustomer(ctx, customerID, "Customer "+customerID); err != nil {
		t.Fatalf("Failed to ensure customer: %v", err)
	}
	loan := newTestLoan(customerID)
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return loan
}

func addPayment(t *testing.T, s Storage, loanID uuid.UUID, amount string, at time.Time) *models.Payment {
	t.Helper()
	p := &models.Payment{
		ID:          uuid.New(),
		LoanID:      loanID,
		Amount:      decimal.RequireFromString(amount),
		Type:        models.PaymentTypeEMI,
		PaymentDate: at,
	}
	err := s.WithLoanLocked(context.Background(), loanID, func(tx LoanTx) error {
		return tx.CreatePayment(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("Failed to add payment: %v", err)
	}
	return p
}

func testEnsureCustomer(t *testing.T, s Storage) {
	ctx := context.Background()
	id := "cust-" + uuid.NewString()

	created, err := s.EnsureCustomer(ctx, id, "Customer "+id)
	if err != nil {
		t.Fatalf("Failed to ensure customer: %v", err)
	}
	if !created {
		t.Error("Expected first EnsureCustomer to create the row")
	}

	created, err = s.EnsureCustomer(ctx, id, "Someone Else")
	if err != nil {
		t.Fatalf("Failed to ensure customer again: %v", err)
	}
	if created {
		t.Error("Expected second EnsureCustomer to find the existing row")
	}
}

func testCreateAndGetLoan(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := mustCreateLoan(t, s, "cust-"+uuid.NewString())

	fetched, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if fetched.ID != loan.ID || fetched.CustomerID != loan.CustomerID {
		t.Errorf("Expected loan %s/%s, got %s/%s", loan.ID, loan.CustomerID, fetched.ID, fetched.CustomerID)
	}
	if !fetched.PrincipalAmount.Equal(loan.PrincipalAmount) || !fetched.TotalAmount.Equal(loan.TotalAmount) {
		t.Errorf("Amounts changed in storage: %s/%s", fetched.PrincipalAmount, fetched.TotalAmount)
	}
	if !fetched.MonthlyEMI.Equal(loan.MonthlyEMI) {
		t.Errorf("EMI lost precision: expected %s, got %s", loan.MonthlyEMI, fetched.MonthlyEMI)
	}
	if fetched.PeriodYears != 2 || fetched.Status != models.LoanStatusActive {
		t.Errorf("Unexpected period/status %d/%s", fetched.PeriodYears, fetched.Status)
	}

	if _, err := s.GetLoan(ctx, uuid.New()); !errors.Is(err, ErrLoanNotFound) {
		t.Errorf("Expected ErrLoanNotFound, got %v", err)
	}
}

func testLoansForCustomer(t *testing.T, s Storage) {
	ctx := context.Background()
	customer := "cust-" + uuid.NewString()
	first := mustCreateLoan(t, s, customer)
	second := mustCreateLoan(t, s, customer)
	mustCreateLoan(t, s, "cust-"+uuid.NewString())

	loans, err := s.GetLoansForCustomer(ctx, customer)
	if err != nil {
		t.Fatalf("Failed to get loans: %v", err)
	}
	if len(loans) != 2 {
		t.Fatalf("Expected 2 loans, got %d", len(loans))
	}
	seen := map[uuid.UUID]bool{loans[0].ID: true, loans[1].ID: true}
	if !seen[first.ID] || !seen[second.ID] {
		t.Errorf("Wrong loans returned: %v", seen)
	}

	loans, err = s.GetLoansForCustomer(ctx, "cust-"+uuid.NewString())
	if err != nil {
		t.Fatalf("Failed to get loans: %v", err)
	}
	if len(loans) != 0 {
		t.Errorf("Expected no loans, got %d", len(loans))
	}
}

func testPaymentOrdering(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := mustCreateLoan(t, s, "cust-"+uuid.NewString())

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	// Inserted out of date order, with two payments sharing a timestamp.
	addPayment(t, s, loan.ID, "3", base.Add(2*time.Minute))
	addPayment(t, s, loan.ID, "1", base)
	addPayment(t, s, loan.ID, "2", base)

	payments, err := s.GetPaymentsForLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get payments: %v", err)
	}
	if len(payments) != 3 {
		t.Fatalf("Expected 3 payments, got %d", len(payments))
	}
	for i, want := range []string{"1", "2", "3"} {
		if !payments[i].Amount.Equal(decimal.RequireFromString(want)) {
			t.Errorf("Payment %d: expected amount %s, got %s", i, want, payments[i].Amount)
		}
	}
	if !payments[0].PaymentDate.Equal(base) {
		t.Errorf("Expected payment date %s, got %s", base, payments[0].PaymentDate)
	}
	if payments[0].Type != models.PaymentTypeEMI || payments[0].LoanID != loan.ID {
		t.Errorf("Unexpected payment fields: %+v", payments[0])
	}
}

func testWithLoanLockedCommits(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := mustCreateLoan(t, s, "cust-"+uuid.NewString())

	err := s.WithLoanLocked(ctx, loan.ID, func(tx LoanTx) error {
		if tx.Loan().ID != loan.ID {
			t.Errorf("Locked the wrong loan: %s", tx.Loan().ID)
		}
		p := &models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(11000), Type: models.PaymentTypeLumpSum, PaymentDate: time.Now()}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		payments, err := tx.GetPayments(ctx)
		if err != nil {
			return err
		}
		if len(payments) != 1 {
			t.Errorf("Expected the transaction to see its own payment, got %d", len(payments))
		}
		return tx.UpdateLoanStatus(ctx, models.LoanStatusPaidOff)
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	fetched, err := s.GetLoan(ctx, loan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != models.LoanStatusPaidOff {
		t.Errorf("Expected PAID_OFF, got %s", fetched.Status)
	}
	payments, _ := s.GetPaymentsForLoan(ctx, loan.ID)
	if len(payments) != 1 {
		t.Errorf("Expected 1 committed payment, got %d", len(payments))
	}
}

func testWithLoanLockedRollsBack(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := mustCreateLoan(t, s, "cust-"+uuid.NewString())
	boom := errors.New("boom")

	err := s.WithLoanLocked(ctx, loan.ID, func(tx LoanTx) error {
		p := &models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(50), Type: models.PaymentTypeEMI, PaymentDate: time.Now()}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateLoanStatus(ctx, models.LoanStatusPaidOff); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error to be returned, got %v", err)
	}

	fetched, _ := s.GetLoan(ctx, loan.ID)
	if fetched.Status != models.LoanStatusActive {
		t.Errorf("Status survived rollback: %s", fetched.Status)
	}
	payments, _ := s.GetPaymentsForLoan(ctx, loan.ID)
	if len(payments) != 0 {
		t.Errorf("Payment survived rollback")
	}

	err = s.WithLoanLocked(ctx, uuid.New(), func(tx LoanTx) error { return nil })
	if !errors.Is(err, ErrLoanNotFound) {
		t.Errorf("Expected ErrLoanNotFound, got %v", err)
	}
}

// testWithLoanLockedSerializes runs read-modify-write increments concurrently.
// Without the lock some of them would read the same prior total.
func testWithLoanLockedSerializes(t *testing.T, s Storage) {
	ctx := context.Background()
	loan := mustCreateLoan(t, s, "cust-"+uuid.NewString())

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WithLoanLocked(ctx, loan.ID, func(tx LoanTx) error {
				payments, err := tx.GetPayments(ctx)
				if err != nil {
					return err
				}
				// Each payment records how many came before it.
				p := &models.Payment{ID: uuid.New(), LoanID: loan.ID, Amount: decimal.NewFromInt(int64(len(payments) + 1)), Type: models.PaymentTypeEMI, PaymentDate: time.Now()}
				return tx.CreatePayment(ctx, p)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent transaction failed: %v", err)
		}
	}

	payments, err := s.GetPaymentsForLoan(ctx, loan.ID)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]bool)
	for _, p := range payments {
		seen[p.Amount.IntPart()] = true
	}
	if len(payments) != workers || len(seen) != workers {
		t.Errorf("Expected %d distinct sequence numbers, got %d payments and %d distinct", workers, len(payments), len(seen))
	}
}

func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Storage)
	}{
		{"EnsureCustomer", testEnsureCustomer},
		{"CreateAndGetLoan", testCreateAndGetLoan},
		{"LoansForCustomer", testLoansForCustomer},
		{"PaymentOrdering", testPaymentOrdering},
		{"WithLoanLockedCommits", testWithLoanLockedCommits},
		{"WithLoanLockedRollsBack", testWithLoanLockedRollsBack},
		{"WithLoanLockedSerializes", testWithLoanLockedSerializes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}
