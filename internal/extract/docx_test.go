package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docextract-backend/internal/extract/extracttest"
)

func TestDOCXParagraphs(t *testing.T) {
	data, err := extracttest.DOCX("First line", "Second line")
	require.NoError(t, err)

	out, err := DOCX{}.Extract(context.Background(), data, MimeDOCX)
	require.NoError(t, err)
	assert.Equal(t, "First line\nSecond line", out)
}

func TestDOCXMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = DOCX{}.Extract(context.Background(), buf.Bytes(), MimeDOCX)
	require.ErrorContains(t, err, "document.xml")
}

func TestTextReplacesInvalidUTF8(t *testing.T) {
	out, err := Text{}.Extract(context.Background(), []byte("ok\xffdone"), MimeText)
	require.NoError(t, err)
	assert.Equal(t, "ok\uFFFDdone", out)
}
