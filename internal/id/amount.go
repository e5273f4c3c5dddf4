package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	swaperr "github.com/avelar/swapflow/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]*(\.[0-9]+)?$`)

// ToBaseUnits converts a user-typed decimal amount into the token's integer
// base units. The conversion is pure string/big.Int arithmetic: binary
// floating point never touches the value, because the result feeds
// allowance and minimum-output comparisons. Fractional digits beyond
// decimals are truncated, never rounded up. Exponential notation ("1.2e5",
// "3E-7") is accepted. Zero and negative amounts fail with InvalidAmount.
func ToBaseUnits(decimal string, decimals int) (string, error) {
	if decimals < 0 {
		return "", swaperr.New(swaperr.CodeUsage, "decimals must be >= 0")
	}
	raw := strings.TrimSpace(decimal)
	if raw == "" {
		return "", swaperr.New(swaperr.CodeInvalidAmount, "amount is required")
	}
	if strings.HasPrefix(raw, "-") {
		return "", swaperr.New(swaperr.CodeInvalidAmount, "amount must be positive")
	}
	raw = strings.TrimPrefix(raw, "+")

	norm, err := expandExponent(raw)
	if err != nil {
		return "", err
	}
	if !decimalPattern.MatchString(norm) || norm == "" || norm == "." {
		return "", swaperr.New(swaperr.CodeInvalidAmount, fmt.Sprintf("amount %q is not a decimal number", decimal))
	}

	parts := strings.SplitN(norm, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		// Truncate: rounding up could overstate the amount the user holds.
		fracPart = fracPart[:decimals]
	}
	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "", swaperr.New(swaperr.CodeInvalidAmount, "amount must be greater than zero")
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", swaperr.New(swaperr.CodeInvalidAmount, fmt.Sprintf("amount %q is not a decimal number", decimal))
	}
	return combined, nil
}

// FromBaseUnits renders an integer base-unit amount as a decimal string with
// trailing zeros trimmed.
func FromBaseUnits(baseUnits string, decimals int) (string, error) {
	raw := strings.TrimSpace(baseUnits)
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return "", swaperr.New(swaperr.CodeInvalidAmount, fmt.Sprintf("base units %q are not a non-negative integer", baseUnits))
	}
	if decimals == 0 {
		return n.String(), nil
	}

	s := n.String()
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart, nil
	}
	return intPart + "." + fracPart, nil
}

// FormatBaseUnits is FromBaseUnits for values already validated upstream;
// malformed input renders as-is rather than erroring mid-report.
func FormatBaseUnits(baseUnits string, decimals int) string {
	out, err := FromBaseUnits(baseUnits, decimals)
	if err != nil {
		return baseUnits
	}
	return out
}

// expandExponent rewrites exponential notation into plain decimal form by
// shifting the decimal point, keeping the digits exact.
func expandExponent(raw string) (string, error) {
	idx := strings.IndexAny(raw, "eE")
	if idx < 0 {
		return raw, nil
	}
	mantissa := raw[:idx]
	expPart := raw[idx+1:]
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return "", swaperr.New(swaperr.CodeInvalidAmount, fmt.Sprintf("amount %q has a malformed exponent", raw))
	}

	parts := strings.SplitN(mantissa, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" && fracPart == "" {
		return "", swaperr.New(swaperr.CodeInvalidAmount, fmt.Sprintf("amount %q is not a decimal number", raw))
	}
	digits := intPart + fracPart
	if !regexp.MustCompile(`^[0-9]+$`).MatchString(digits) {
		return "", swaperr.New(swaperr.CodeInvalidAmount, fmt.Sprintf("amount %q is not a decimal number", raw))
	}

	// point is the number of digits to the left of the decimal point.
	point := len(intPart) + exp
	switch {
	case point <= 0:
		return "0." + strings.Repeat("0", -point) + digits, nil
	case point >= len(digits):
		return digits + strings.Repeat("0", point-len(digits)), nil
	default:
		return digits[:point] + "." + digits[point:], nil
	}
}
