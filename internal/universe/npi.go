// Package universe handles loading, validation, and de-duplication of the
// NPI universe that a suppression run operates on.
package universe

import "strings"

// npiLength is the fixed length of a National Provider Identifier.
const npiLength = 10

// prefixLuhnSum is the Luhn contribution of the constant "80840" card
// issuer prefix that CMS prepends to the 9-digit NPI base when computing
// the check digit.
const prefixLuhnSum = 24

// CleanNPI normalizes a raw NPI value: trims whitespace and strips any
// non-digit characters. Returns the cleaned string, which may still be
// invalid (wrong length or bad check digit).
func CleanNPI(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidNPI reports whether npi is a well-formed National Provider
// Identifier: exactly 10 digits whose last digit is the correct Luhn check
// digit over the 80840-prefixed 9-digit base.
func ValidNPI(npi string) bool {
	if len(npi) != npiLength {
		return false
	}
	for _, r := range npi {
		if r < '0' || r > '9' {
			return false
		}
	}

	// Luhn over the first 9 digits, doubling from the rightmost.
	sum := prefixLuhnSum
	double := true
	for i := npiLength - 2; i >= 0; i-- {
		d := int(npi[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}

	check := (10 - sum%10) % 10
	return check == int(npi[npiLength-1]-'0')
}
