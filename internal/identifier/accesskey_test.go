package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFields() AccessKeyFields {
	return AccessKeyFields{
		RegionCode:   "35",
		YearMonth:    "2401",
		IssuerCNPJ:   "11444777000161",
		Model:        "55",
		Series:       1,
		Number:       1234,
		EmissionType: EmissionNormal,
		Code:         12345678,
	}
}

func TestDeriveAccessKey(t *testing.T) {
	key, err := DeriveAccessKey(sampleFields())
	require.NoError(t, err)
	assert.Equal(t, "35240111444777000161550010000012341123456784", key)
	assert.Len(t, key, AccessKeyLength)
	assert.True(t, ValidateAccessKey(key))
}

func TestDeriveAccessKeyRemainderBelowTwo(t *testing.T) {
	f := sampleFields()
	f.Code = 1
	key, err := DeriveAccessKey(f)
	require.NoError(t, err)
	assert.Equal(t, "35240111444777000161550010000012341000000014", key)
}

func TestDeriveAccessKeyAlwaysFortyFourDigits(t *testing.T) {
	f := sampleFields()
	for _, n := range []int{0, 1, 99, 123456, 999_999_999} {
		for _, code := range []int{0, 7, 99_999_999} {
			f.Number = n
			f.Code = code
			key, err := DeriveAccessKey(f)
			require.NoError(t, err)
			assert.Len(t, key, AccessKeyLength)
			for _, c := range key {
				assert.True(t, c >= '0' && c <= '9')
			}
		}
	}
}

func TestDeriveAccessKeyRejectsWidthViolations(t *testing.T) {
	cases := map[string]func(*AccessKeyFields){
		"region":      func(f *AccessKeyFields) { f.RegionCode = "5" },
		"year month":  func(f *AccessKeyFields) { f.YearMonth = "24011" },
		"month range": func(f *AccessKeyFields) { f.YearMonth = "2413" },
		"cnpj":        func(f *AccessKeyFields) { f.IssuerCNPJ = "1144477700016" },
		"model":       func(f *AccessKeyFields) { f.Model = "5a" },
		"series":      func(f *AccessKeyFields) { f.Series = 1000 },
		"number":      func(f *AccessKeyFields) { f.Number = 1_000_000_000 },
		"negative":    func(f *AccessKeyFields) { f.Number = -1 },
		"emission":    func(f *AccessKeyFields) { f.EmissionType = 10 },
		"code":        func(f *AccessKeyFields) { f.Code = 100_000_000 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := sampleFields()
			mutate(&f)
			key, err := DeriveAccessKey(f)
			assert.Empty(t, key)
			assert.ErrorIs(t, err, ErrInvalidAccessKeyField)
		})
	}
}

func TestParseAccessKey(t *testing.T) {
	f := sampleFields()
	key, err := DeriveAccessKey(f)
	require.NoError(t, err)

	parsed, ok := ParseAccessKey(key)
	require.True(t, ok)
	assert.Equal(t, f, parsed)

	_, ok = ParseAccessKey(key[:43] + "0")
	assert.False(t, ok)
}
