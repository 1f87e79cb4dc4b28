package campaign

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnreachableNumber = errors.New("campaign: number cannot be dialed")

// NormalizePhone rewrites a raw phone field into E.164 for dialing.
// Non-digits are stripped, ten-digit numbers get the US country code, and
// anything still shorter than eleven digits is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		digits = "1" + digits
	}
	if len(digits) < 11 {
		return "", fmt.Errorf("%w: %q has too few digits", ErrUnreachableNumber, raw)
	}
	return "+" + digits, nil
}
