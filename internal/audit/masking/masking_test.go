package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
	assert.Equal(t, "pair_****cdef", MaskSecret("pair_0123abcdef"))
}

func TestMaskJSONOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskJSON(map[string]any{
		"fingerprint": "ab12cd34ef",
		"passphrase":  "hunter22secret",
		"nested": map[string]any{
			"pairing_token": "tok_abcdefgh",
			"class":         "A3",
		},
		"valid_days": 365,
		"":           "dropped",
	})

	assert.Equal(t, "ab12cd34ef", out["fingerprint"])
	assert.Equal(t, "****cret", out["passphrase"])
	assert.Equal(t, 365, out["valid_days"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "tok_****efgh", nested["pairing_token"])
	assert.Equal(t, "A3", nested["class"])
	assert.NotContains(t, out, "")
}

func TestMaskJSONEmpty(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{" ": 1}))
}
