package account

import (
	"fmt"
	"strings"

	"kis-router/pkg/types"
)

// Account is one brokerage account as configured in the accounts blob.
// Records are immutable after load; the store hands out shared pointers.
type Account struct {
	ID             string `json:"id"`
	WebhookToken   string `json:"webhook_token"`
	AppKey         string `json:"app_key"`
	AppSecret      string `json:"app_secret"`
	AccountNumber  string `json:"account_number"`  // exactly 8 chars
	AccountProduct string `json:"account_product"` // exactly 2 chars
	AccountType    string `json:"account_type"`    // STOCK | FUTURES | OVERSEAS, optional
	IsVirtual      bool   `json:"is_virtual"`
	IsActive       bool   `json:"is_active"`

	// RealAccountReference optionally names a paired real account whose
	// credentials serve market-data reads the virtual environment lacks.
	RealAccountReference string `json:"real_account_reference,omitempty"`

	class types.AccountClass // resolved during validation
}

// Class returns the account's asset class. The explicit account_type field
// wins; otherwise a product code starting with "03" is a futures account and
// everything else trades domestic stock.
func (a *Account) Class() types.AccountClass {
	return a.class
}

// resolveClass derives the asset class from the record's fields.
func (a *Account) resolveClass() (types.AccountClass, error) {
	switch strings.ToUpper(strings.TrimSpace(a.AccountType)) {
	case string(types.ClassStock):
		return types.ClassStock, nil
	case string(types.ClassFutures):
		return types.ClassFutures, nil
	case string(types.ClassOverseas):
		return types.ClassOverseas, nil
	case "":
		if strings.HasPrefix(a.AccountProduct, "03") {
			return types.ClassFutures, nil
		}
		return types.ClassStock, nil
	default:
		return "", fmt.Errorf("unknown account_type %q", a.AccountType)
	}
}

// validate checks the record shape and resolves the asset class.
// A failing record is dropped at load time, never partially indexed.
func (a *Account) validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.WebhookToken == "" {
		return fmt.Errorf("webhook_token is required")
	}
	if a.AppKey == "" || a.AppSecret == "" {
		return fmt.Errorf("app_key and app_secret are required")
	}
	if len(a.AccountNumber) != 8 {
		return fmt.Errorf("account_number must be exactly 8 chars, got %d", len(a.AccountNumber))
	}
	if len(a.AccountProduct) != 2 {
		return fmt.Errorf("account_product must be exactly 2 chars, got %d", len(a.AccountProduct))
	}
	class, err := a.resolveClass()
	if err != nil {
		return err
	}
	a.class = class
	return nil
}
