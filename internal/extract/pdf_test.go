package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docextract-backend/internal/extract/extracttest"
)

func TestPDFExtractsHelloWorld(t *testing.T) {
	out, err := Run(context.Background(), PDF{}, extracttest.PDF("Hello World"), MimePDF)
	require.NoError(t, err)
	assert.Contains(t, out, "Hello World")
}

func TestPDFKeepsPageOrder(t *testing.T) {
	out, err := Run(context.Background(), PDF{}, extracttest.PDF("First page", "Second page"), MimePDF)
	require.NoError(t, err)

	first := strings.Index(out, "First page")
	second := strings.Index(out, "Second page")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
}

func TestPDFTruncatedFails(t *testing.T) {
	data := extracttest.PDF("Hello World")
	_, err := Run(context.Background(), PDF{}, data[:len(data)/2], MimePDF)
	require.Error(t, err)
}

func TestPDFRejectsNonPDF(t *testing.T) {
	_, err := Run(context.Background(), PDF{}, []byte("plain words"), MimePDF)
	require.Error(t, err)

	_, err = Run(context.Background(), PDF{}, nil, MimePDF)
	require.Error(t, err)
}
