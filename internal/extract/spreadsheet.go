package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Spreadsheet returns every sheet's rows, in workbook order.
type Spreadsheet struct{}

type sheetRows struct {
	Sheet string     `json:"sheet"`
	Rows  [][]string `json:"rows"`
}

func (Spreadsheet) Name() string { return "spreadsheet" }

func (Spreadsheet) Extract(_ context.Context, data []byte, _ string) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	out := make([]sheetRows, 0, len(sheets))
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", name, err)
		}
		if rows == nil {
			rows = [][]string{}
		}
		out = append(out, sheetRows{Sheet: name, Rows: rows})
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode workbook: %w", err)
	}
	return string(encoded), nil
}
