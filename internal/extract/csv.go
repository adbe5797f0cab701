package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSV turns rows into a JSON array of objects keyed by the header row.
// Key order follows the header; extra cells are keyed "_<index>".
type CSV struct{}

func (CSV) Name() string { return "csv" }

func (CSV) Extract(_ context.Context, data []byte, _ string) (string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\uFEFF"))))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return "[]", nil
	}
	if err != nil {
		return "", fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	records := make([]orderedRecord, 0)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv row: %w", err)
		}
		records = append(records, newOrderedRecord(header, row))
	}

	out, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode csv records: %w", err)
	}
	return string(out), nil
}

type field struct {
	key   string
	value string
}

type orderedRecord []field

func newOrderedRecord(header, row []string) orderedRecord {
	rec := make(orderedRecord, 0, len(row))
	seen := make(map[string]int, len(header))
	for i, value := range row {
		key := "_" + strconv.Itoa(i)
		if i < len(header) && header[i] != "" {
			key = header[i]
		}
		if pos, dup := seen[key]; dup {
			rec[pos].value = value
			continue
		}
		seen[key] = len(rec)
		rec = append(rec, field{key: key, value: value})
	}
	for i := len(row); i < len(header); i++ {
		if _, dup := seen[header[i]]; dup || header[i] == "" {
			continue
		}
		seen[header[i]] = len(rec)
		rec = append(rec, field{key: header[i]})
	}
	return rec
}

func (r orderedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
