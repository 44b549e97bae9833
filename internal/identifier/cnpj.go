package identifier

import "strings"

// ValidateCNPJ reports whether digits is a 14-digit CNPJ whose two check
// digits match. Malformed input is reported as invalid, never as an error.
func ValidateCNPJ(digits string) bool {
	if len(digits) != 14 {
		return false
	}

	uniform := true
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return false
		}
		if digits[i] != digits[0] {
			uniform = false
		}
	}
	if uniform {
		return false
	}

	first := cnpjCheckDigit(digits[:12])
	if first != int(digits[12]-'0') {
		return false
	}
	second := cnpjCheckDigit(digits[:13])
	return second == int(digits[13]-'0')
}

// CompleteCNPJ appends the two check digits to a 12-digit CNPJ base
// (8-digit root plus 4-digit branch).
func CompleteCNPJ(base string) (string, bool) {
	if len(base) != 12 || !allDigits(base) {
		return "", false
	}
	withFirst := base + string(rune('0'+cnpjCheckDigit(base)))
	return withFirst + string(rune('0'+cnpjCheckDigit(withFirst))), true
}

// NormalizeCNPJ strips punctuation such as "11.444.777/0001-61".
func NormalizeCNPJ(value string) string {
	var b strings.Builder
	b.Grow(14)
	for i := 0; i < len(value); i++ {
		if isDigit(value[i]) {
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

// SameCNPJ compares two registration numbers after normalization.
func SameCNPJ(a, b string) bool {
	na := NormalizeCNPJ(a)
	return na != "" && na == NormalizeCNPJ(b)
}

// FormatCNPJ renders a 14-digit CNPJ as 00.000.000/0000-00.
func FormatCNPJ(digits string) string {
	d := NormalizeCNPJ(digits)
	if len(d) != 14 {
		return digits
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

// weights cycle 2..9 starting from the least-significant digit.
func cnpjCheckDigit(body string) int {
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	return ((10 * sum) % 11) % 10
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func allDigits(value string) bool {
	for i := 0; i < len(value); i++ {
		if !isDigit(value[i]) {
			return false
		}
	}
	return true
}
