package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaid      LoanStatus = "paid"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// LogType classifies a collection visit.
type LogType string

const (
	LogTypePayment   LogType = "payment"
	LogTypeVisit     LogType = "visit"
	LogTypePromise   LogType = "promise"
	LogTypeNoContact LogType = "no_contact"
)

type Client struct {
	Meta
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
	CollectorID    string `json:"collectorId,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type Loan struct {
	Meta
	ClientID     string          `json:"clientId"`
	CollectorID  string          `json:"collectorId,omitempty"`
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interestRate"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Balance      decimal.Decimal `json:"balance"`
	Installments int             `json:"installments"`
	Frequency    Frequency       `json:"frequency"`
	Status       LoanStatus      `json:"status"`
	StartDate    time.Time       `json:"startDate"`
}

type Payment struct {
	Meta
	LoanID      string          `json:"loanId"`
	ClientID    string          `json:"clientId"`
	CollectorID string          `json:"collectorId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method,omitempty"`
	PaidAt      time.Time       `json:"paidAt"`
}

type CollectionLog struct {
	Meta
	LoanID      string          `json:"loanId"`
	ClientID    string          `json:"clientId"`
	CollectorID string          `json:"collectorId,omitempty"`
	Type        LogType         `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Notes       string          `json:"notes,omitempty"`
	VisitedAt   time.Time       `json:"visitedAt"`
}

type Expense struct {
	Meta
	CollectorID string          `json:"collectorId,omitempty"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	SpentAt     time.Time       `json:"spentAt"`
}

type User struct {
	Meta
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// BranchSettings holds per-branch configuration. Its ID is the branch id.
type BranchSettings struct {
	Meta
	Name                string          `json:"name"`
	Currency            string          `json:"currency"`
	DefaultInterestRate decimal.Decimal `json:"defaultInterestRate"`
	GracePeriodDays     int             `json:"gracePeriodDays"`
}

// Tombstone records a remote deletion so incremental pulls can see it.
type Tombstone struct {
	ID        string    `json:"id"`
	Table     Table     `json:"table"`
	RecordID  string    `json:"recordId"`
	BranchID  string    `json:"branchId"`
	DeletedAt time.Time `json:"deletedAt"`
}
