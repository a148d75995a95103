// Package phone normalizes telephone numbers to E.164 form.
//
// Carrier webhooks usually deliver numbers already normalized
// ("+14155550100"), but humans and test fixtures do not. NormalizeE164
// accepts the common North American spellings and is idempotent, so it is
// safe to apply at every ingress point.
package phone

import "strings"

// NormalizeE164 converts a phone number to E.164 form.
//
// All characters other than digits and '+' are stripped. A number that
// already starts with '+' is returned as-is after stripping. A bare
// 10-digit number is assumed to be NANP and gets a "+1" prefix; an
// 11-digit number starting with '1' gets a '+'. Anything else gets a '+'
// prepended unchanged.
func NormalizeE164(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range strings.TrimSpace(number) {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	switch {
	case strings.HasPrefix(cleaned, "+"):
		return cleaned
	case len(cleaned) == 10:
		return "+1" + cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		return "+" + cleaned
	default:
		return "+" + cleaned
	}
}
