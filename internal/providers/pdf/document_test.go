package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDocumentProducesPDF(t *testing.T) {
	out, err := New().RenderDocument(context.Background(), DocumentData{
		Category:   "NFE",
		AccessKey:  "35240111444777000161550010000000011000000017",
		Number:     "1",
		Series:     "1",
		IssuerName: "ACME",
		Total:      "R$ 10,00",
		Events:     []EventLine{{Date: "2024-01-02", Type: "cancelamento"}},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestGroupDigits(t *testing.T) {
	assert.Equal(t, "1234 5678 90", groupDigits("1234567890"))
	assert.Equal(t, "-", groupDigits(" "))
}
