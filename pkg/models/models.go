package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "ACTIVE"
	LoanStatusPaidOff LoanStatus = "PAID_OFF"
)

type PaymentType string

const (
	PaymentTypeEMI     PaymentType = "EMI"
	PaymentTypeLumpSum PaymentType = "LUMP_SUM"
)

// Valid reports whether t is one of the known payment types.
func (t PaymentType) Valid() bool {
	return t == PaymentTypeEMI || t == PaymentTypeLumpSum
}

type Customer struct {
	ID        string    `json:"customer_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Loan is the persisted loan row. TotalAmount and MonthlyEMI are fixed at
// creation; only Status changes afterwards.
type Loan struct {
	ID              uuid.UUID       `json:"loan_id"`
	CustomerID      string          `json:"customer_id"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"` // annual percentage
	PeriodYears     int             `json:"loan_period_years"`
	MonthlyEMI      decimal.Decimal `json:"monthly_emi"`
	Status          LoanStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Payment struct {
	ID          uuid.UUID       `json:"payment_id"`
	LoanID      uuid.UUID       `json:"loan_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        PaymentType     `json:"payment_type"`
	PaymentDate time.Time       `json:"payment_date"`
}

// LoanSummary is returned when a loan is created.
type LoanSummary struct {
	LoanID             uuid.UUID       `json:"loan_id"`
	CustomerID         string          `json:"customer_id"`
	TotalAmountPayable decimal.Decimal `json:"total_amount_payable"`
	MonthlyEMI         decimal.Decimal `json:"monthly_emi"`
	TotalInterest      decimal.Decimal `json:"total_interest"`
}

// PaymentResult is returned after a payment has been committed.
type PaymentResult struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	Message          string          `json:"message"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	EMIsLeft         int64           `json:"emis_left"`
	Status           LoanStatus      `json:"status"`
}

// LoanPosition holds the figures derived from a loan and its payments.
// Nothing in it is stored; it is recomputed on every read.
type LoanPosition struct {
	LoanID          uuid.UUID       `json:"loan_id"`
	CustomerID      string          `json:"customer_id"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	PeriodYears     int             `json:"loan_period_years"`
	TotalInterest   decimal.Decimal `json:"total_interest"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	MonthlyEMI      decimal.Decimal `json:"monthly_emi"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	EMIsLeft        int64           `json:"emis_left"`
	Status          LoanStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LoanLedger is a loan position plus its payments in ledger order.
type LoanLedger struct {
	LoanPosition
	Transactions []*Payment `json:"transactions"`
}

type CustomerOverview struct {
	CustomerID string          `json:"customer_id"`
	TotalLoans int             `json:"total_loans"`
	Loans      []*LoanPosition `json:"loans"`
}
