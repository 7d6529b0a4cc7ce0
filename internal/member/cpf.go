package member

import "strings"

// CPFLength is the number of digits in a canonical CPF.
const CPFLength = 11

// NormalizeCPF strips everything but digits.
func NormalizeCPF(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseCPF normalizes raw and requires exactly eleven digits.
func ParseCPF(raw string) (string, error) {
	cpf := NormalizeCPF(raw)
	if len(cpf) != CPFLength {
		return "", invalid("cpf must contain exactly 11 digits")
	}
	return cpf, nil
}

// FormatCPF applies the 000.000.000-00 mask progressively, so partial input
// is masked as far as it goes. Digits beyond the eleventh are dropped.
func FormatCPF(raw string) string {
	digits := NormalizeCPF(raw)
	if len(digits) > CPFLength {
		digits = digits[:CPFLength]
	}
	var b strings.Builder
	for i, r := range digits {
		switch i {
		case 3, 6:
			b.WriteByte('.')
		case 9:
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
