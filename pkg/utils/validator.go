package utils

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	fileNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)
	extensionSafe  = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)
)

// MaxAmount caps a single expense or planned item
var MaxAmount = decimal.NewFromInt(10_000_000)

// ValidateAmount checks that an amount is non-negative and below MaxAmount
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("amount cannot be negative: %s", amount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount exceeds maximum limit: %s", amount)
	}
	return nil
}

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// SanitizeFileName replaces every run of characters outside [A-Za-z0-9_-]
// with a single underscore. An empty name becomes "user".
func SanitizeFileName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "user"
	}
	return fileNameUnsafe.ReplaceAllString(name, "_")
}

// FileExtension returns the lower-cased extension of name including the dot,
// or "" when it is missing or unusual
func FileExtension(name string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if !extensionSafe.MatchString(ext) {
		return ""
	}
	return ext
}
