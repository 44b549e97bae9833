package identifier

import (
	"fmt"
	"strconv"

	"github.com/smallbiznis/fiscalsync/internal/fiscalerr"
)

const (
	AccessKeyLength = 44

	// EmissionNormal is the tpEmis value for regular online emission.
	EmissionNormal = 1
)

var ErrInvalidAccessKeyField = fiscalerr.Validation("invalid_access_key_field", "access key component has the wrong width")

// AccessKeyFields are the components of a national 44-digit access key, in
// key order.
type AccessKeyFields struct {
	RegionCode   string // cUF, 2 digits
	YearMonth    string // AAMM, 4 digits
	IssuerCNPJ   string // 14 digits
	Model        string // 55 NF-e, 65 NFC-e, 57 CT-e, 58 MDF-e
	Series       int    // 0..999
	Number       int    // 1..999999999
	EmissionType int    // tpEmis, 1 digit
	Code         int    // cNF, 0..99999999
}

// DeriveAccessKey concatenates the fields and appends the modulo-11 check
// digit. Components that do not fit their width are rejected.
func DeriveAccessKey(f AccessKeyFields) (string, error) {
	if err := fixedDigits("region_code", f.RegionCode, 2); err != nil {
		return "", err
	}
	if err := fixedDigits("year_month", f.YearMonth, 4); err != nil {
		return "", err
	}
	if month, _ := strconv.Atoi(f.YearMonth[2:]); month < 1 || month > 12 {
		return "", fiscalerr.Wrap(ErrInvalidAccessKeyField, fmt.Errorf("year_month: month %q out of range", f.YearMonth[2:]))
	}
	if err := fixedDigits("issuer_cnpj", f.IssuerCNPJ, 14); err != nil {
		return "", err
	}
	if err := fixedDigits("model", f.Model, 2); err != nil {
		return "", err
	}
	if err := boundedNumber("series", f.Series, 999); err != nil {
		return "", err
	}
	if err := boundedNumber("number", f.Number, 999_999_999); err != nil {
		return "", err
	}
	if err := boundedNumber("emission_type", f.EmissionType, 9); err != nil {
		return "", err
	}
	if err := boundedNumber("code", f.Code, 99_999_999); err != nil {
		return "", err
	}

	body := fmt.Sprintf("%s%s%s%s%03d%09d%d%08d",
		f.RegionCode,
		f.YearMonth,
		f.IssuerCNPJ,
		f.Model,
		f.Series,
		f.Number,
		f.EmissionType,
		f.Code,
	)
	if len(body) != AccessKeyLength-1 {
		return "", fiscalerr.Wrap(ErrInvalidAccessKeyField, fmt.Errorf("key body has %d digits", len(body)))
	}
	return body + strconv.Itoa(AccessKeyCheckDigit(body)), nil
}

// AccessKeyCheckDigit computes the DV over the given digits with weights
// cycling 2..9 from the rightmost digit.
func AccessKeyCheckDigit(body string) int {
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	remainder := sum % 11
	if remainder < 2 {
		return 0
	}
	return 11 - remainder
}

// ValidateAccessKey reports whether key is 44 digits with a matching DV.
func ValidateAccessKey(key string) bool {
	if len(key) != AccessKeyLength || !allDigits(key) {
		return false
	}
	return AccessKeyCheckDigit(key[:43]) == int(key[43]-'0')
}

// ParseAccessKey splits a valid key back into its components.
func ParseAccessKey(key string) (AccessKeyFields, bool) {
	if !ValidateAccessKey(key) {
		return AccessKeyFields{}, false
	}
	series, _ := strconv.Atoi(key[22:25])
	number, _ := strconv.Atoi(key[25:34])
	code, _ := strconv.Atoi(key[35:43])
	return AccessKeyFields{
		RegionCode:   key[0:2],
		YearMonth:    key[2:6],
		IssuerCNPJ:   key[6:20],
		Model:        key[20:22],
		Series:       series,
		Number:       number,
		EmissionType: int(key[34] - '0'),
		Code:         code,
	}, true
}

func fixedDigits(field, value string, width int) error {
	if len(value) != width || !allDigits(value) {
		return fiscalerr.Wrap(ErrInvalidAccessKeyField, fmt.Errorf("%s: want %d digits, got %q", field, width, value))
	}
	return nil
}

func boundedNumber(field string, value, max int) error {
	if value < 0 || value > max {
		return fiscalerr.Wrap(ErrInvalidAccessKeyField, fmt.Errorf("%s: %d out of range 0..%d", field, value, max))
	}
	return nil
}
