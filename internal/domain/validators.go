package domain

import (
	"fmt"
	"math"
	"regexp"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrency checks if a currency code is ISO 4217 shaped.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePositiveAmount checks that an amount (minor units) is positive.
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

// AmountsMatch reports whether two minor-unit amounts agree within the ±1
// minor-unit tolerance the line-item/session/order reconciliation checks use.
func AmountsMatch(a, b int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// ConvertMinorUnits converts a minor-unit amount by an FX rate, rounding
// through major units: round(amountMinor/minorFactor × rate × minorFactor).
// minorFactor is 100 for two-decimal currencies (USD, EUR, ...); callers pass
// the factor appropriate to the target currency.
func ConvertMinorUnits(amountMinor int64, rate float64, minorFactor int64) int64 {
	major := float64(amountMinor) / float64(minorFactor)
	convertedMajor := major * rate
	return int64(math.Round(convertedMajor * float64(minorFactor)))
}
