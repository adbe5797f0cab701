package extract

import (
	"bytes"
	"context"
	"strings"
)

// Text returns the bytes as UTF-8, replacing invalid sequences.
type Text struct{}

func (Text) Name() string { return "text" }

func (Text) Extract(_ context.Context, data []byte, _ string) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}
