package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/lendingLedger/pkg/ledger"
	"github.com/mcclellann/lendingLedger/pkg/models"
	"github.com/mcclellann/lendingLedger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  *logrus.Logger
}

func NewServer(s store.Storage, logger *logrus.Logger, opts ...ledger.Option) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, logger, opts...),
		storage: s,
		logger:  logger,
	}
}

// Router builds the HTTP handler. All ledger routes live under /api/v1.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/health", s.healthHandler).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{loan_id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{loan_id}/payments", s.recordPaymentHandler).Methods("POST")
	api.HandleFunc("/loans/{loan_id}/ledger", s.getLedgerHandler).Methods("GET")
	api.HandleFunc("/customers/{customer_id}/overview", s.getOverviewHandler).Methods("GET")
	return router
}

type createLoanRequest struct {
	CustomerID   *string          `json:"customer_id"`
	LoanAmount   *decimal.Decimal `json:"loan_amount"`
	PeriodYears  *int             `json:"loan_period_years"`
	InterestRate *decimal.Decimal `json:"interest_rate_yearly"`
}

func (r createLoanRequest) toLedger() (ledger.CreateLoanRequest, error) {
	var missing []string
	if r.CustomerID == nil {
		missing = append(missing, "customer_id")
	}
	if r.LoanAmount == nil {
		missing = append(missing, "loan_amount")
	}
	if r.PeriodYears == nil {
		missing = append(missing, "loan_period_years")
	}
	if r.InterestRate == nil {
		missing = append(missing, "interest_rate_yearly")
	}
	if len(missing) > 0 {
		return ledger.CreateLoanRequest{}, missingFields(missing)
	}
	return ledger.CreateLoanRequest{
		CustomerID:   *r.CustomerID,
		LoanAmount:   *r.LoanAmount,
		PeriodYears:  *r.PeriodYears,
		InterestRate: *r.InterestRate,
	}, nil
}

type paymentRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	PaymentType *string          `json:"payment_type"`
}

func (r paymentRequest) toLedger() (ledger.PaymentRequest, error) {
	var missing []string
	if r.Amount == nil {
		missing = append(missing, "amount")
	}
	if r.PaymentType == nil {
		missing = append(missing, "payment_type")
	}
	if len(missing) > 0 {
		return ledger.PaymentRequest{}, missingFields(missing)
	}
	return ledger.PaymentRequest{
		Amount: *r.Amount,
		Type:   models.PaymentType(strings.ToUpper(strings.TrimSpace(*r.PaymentType))),
	}, nil
}

func missingFields(fields []string) error {
	return &fieldError{fields: fields}
}

type fieldError struct {
	fields []string
}

func (e *fieldError) Error() string {
	return "missing required fields: " + strings.Join(e.fields, ", ")
}

func (e *fieldError) Unwrap() error {
	return ledger.ErrInvalidInput
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var body createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, invalidBody(err))
		return
	}
	req, err := body.toLedger()
	if err != nil {
		s.writeError(w, err)
		return
	}

	summary, err := s.ledger.CreateLoan(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, roundSummary(summary))
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := ledger.ParseLoanID(mux.Vars(r)["loan_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := ledger.ParseLoanID(mux.Vars(r)["loan_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, invalidBody(err))
		return
	}
	req, err := body.toLedger()
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.ledger.RecordPayment(r.Context(), loanID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, roundPaymentResult(result))
}

func (s *Server) getLedgerHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := ledger.ParseLoanID(mux.Vars(r)["loan_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	l, err := s.ledger.GetLedger(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.LoanLedger{
		LoanPosition: *roundPosition(&l.LoanPosition),
		Transactions: l.Transactions,
	})
}

func (s *Server) getOverviewHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := s.ledger.GetOverview(r.Context(), mux.Vars(r)["customer_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	loans := make([]*models.LoanPosition, len(overview.Loans))
	for i, p := range overview.Loans {
		loans[i] = roundPosition(p)
	}
	overview.Loans = loans
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func invalidBody(err error) error {
	return fmt.Errorf("%w: malformed request body: %w", ledger.ErrInvalidInput, err)
}

// writeError maps the ledger error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		code    int
		message string
	)
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		code, message = http.StatusBadRequest, "Invalid input"
	case errors.Is(err, ledger.ErrNotFound):
		code, message = http.StatusNotFound, "Not found"
	case errors.Is(err, ledger.ErrInvalidState):
		code, message = http.StatusBadRequest, "Loan is already paid off"
	default:
		s.logger.WithError(err).Error("Request failed")
		code, message = http.StatusInternalServerError, "Internal server error"
	}
	writeJSON(w, code, errorResponse{Message: message, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("Handled request")
	})
}

// Money is rounded to cents on the way out only.
const moneyPlaces = 2

func roundSummary(s *models.LoanSummary) *models.LoanSummary {
	out := *s
	out.TotalAmountPayable = s.TotalAmountPayable.Round(moneyPlaces)
	out.MonthlyEMI = s.MonthlyEMI.Round(moneyPlaces)
	out.TotalInterest = s.TotalInterest.Round(moneyPlaces)
	return &out
}

func roundPaymentResult(p *models.PaymentResult) *models.PaymentResult {
	out := *p
	out.RemainingBalance = p.RemainingBalance.Round(moneyPlaces)
	return &out
}

func roundPosition(p *models.LoanPosition) *models.LoanPosition {
	out := *p
	out.TotalInterest = p.TotalInterest.Round(moneyPlaces)
	out.TotalAmount = p.TotalAmount.Round(moneyPlaces)
	out.MonthlyEMI = p.MonthlyEMI.Round(moneyPlaces)
	out.AmountPaid = p.AmountPaid.Round(moneyPlaces)
	out.BalanceAmount = p.BalanceAmount.Round(moneyPlaces)
	return &out
}
