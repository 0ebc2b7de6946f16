package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/shopspring/decimal"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

var errUsage = fmt.Errorf("wrong arguments")

func usage(text string) error {
	printlnFn("usage:", text)
	return errUsage
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive, got %s", s)
	}
	return d, nil
}

func parseLogType(s string) (models.LogType, error) {
	switch t := models.LogType(strings.ToLower(s)); t {
	case models.LogTypePayment, models.LogTypeVisit, models.LogTypePromise, models.LogTypeNoContact:
		return t, nil
	}
	return "", fmt.Errorf("unknown visit type %q", s)
}

func parseInstallments(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid installments %q", s)
	}
	return n, nil
}

// tableAlias maps the short names the REPL accepts to tables.
var tableAlias = map[string]models.Table{
	"client":   models.TableClients,
	"clients":  models.TableClients,
	"loan":     models.TableLoans,
	"loans":    models.TableLoans,
	"payment":  models.TablePayments,
	"payments": models.TablePayments,
	"log":      models.TableCollectionLogs,
	"logs":     models.TableCollectionLogs,
	"expense":  models.TableExpenses,
	"expenses": models.TableExpenses,
}
