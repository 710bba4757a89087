package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// TicketPriorities lists the priorities HubSpot accepts for tickets.
var TicketPriorities = []string{"LOW", "MEDIUM", "HIGH"}

// NormalizeTicketPriority upper-cases priority and checks it is one HubSpot accepts.
// Empty is allowed and means unset.
func NormalizeTicketPriority(priority string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(priority))
	if p == "" {
		return "", nil
	}
	for _, allowed := range TicketPriorities {
		if p == allowed {
			return p, nil
		}
	}
	return "", fmt.Errorf("priority must be one of %s", strings.Join(TicketPriorities, ", "))
}

// ValidateEmail checks an email address. Empty is allowed.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if err := validate.Var(email, "email"); err != nil {
		return fmt.Errorf("invalid email address '%s'", email)
	}
	return nil
}

// ValidateAmount rejects negative deal amounts.
func ValidateAmount(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("amount cannot be negative")
	}
	return nil
}

// ParseDateFlag parses a local YYYY-MM-DD date. Empty returns nil, which
// clears the field.
func ParseDateFlag(dateStr string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}
	parsedDate, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date '%s': expected YYYY-MM-DD (e.g., 2026-03-31)", dateStr)
	}
	return &parsedDate, nil
}
