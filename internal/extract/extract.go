package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeXLSM = "application/vnd.ms-excel.sheet.macroenabled.12"
	MimeXLS  = "application/vnd.ms-excel"
	MimeCSV  = "text/csv"
	MimeText = "text/plain"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// ErrPanic wraps a panic recovered from a strategy.
var ErrPanic = errors.New("extraction panicked")

// Strategy turns raw file bytes into extracted content.
// Implementations must not touch the document store.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Registry maps normalized MIME types to strategies. Types without an entry
// resolve to Unsupported.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]Strategy
	fallback Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType:   make(map[string]Strategy),
		fallback: Unsupported{},
	}
}

// Register binds s to each MIME type, replacing earlier bindings.
func (r *Registry) Register(s Strategy, mimeTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mt := range mimeTypes {
		r.byType[baseType(mt)] = s
	}
}

// Resolve returns the strategy for mimeType or the Unsupported fallback.
func (r *Registry) Resolve(mimeType string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byType[baseType(mimeType)]; ok {
		return s
	}
	return r.fallback
}

// Types lists the registered MIME types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for mt := range r.byType {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Options configures the default registry.
type Options struct {
	OCRCommand   string
	OCRLanguages string
	Runner       CommandRunner
}

// NewDefaultRegistry registers every built-in strategy.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(PDF{}, MimePDF)
	r.Register(NewImage(opts.Runner, opts.OCRCommand, opts.OCRLanguages), ImageTypes...)
	r.Register(CSV{}, MimeCSV, "application/csv", "text/comma-separated-values")
	r.Register(Spreadsheet{}, MimeXLSX, MimeXLSM)
	r.Register(DOCX{}, MimeDOCX)
	r.Register(Text{}, MimeText, "text/markdown")
	return r
}

// Run invokes s and converts a panic into an error wrapping ErrPanic.
func Run(ctx context.Context, s Strategy, data []byte, mimeType string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = fmt.Errorf("%w: %s: %v\n%s", ErrPanic, s.Name(), rec, debug.Stack())
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Extract(ctx, data, mimeType)
}

// NormalizeMimeType lowercases the declared type, drops parameters, and
// refines types browsers commonly get wrong using the file name and bytes.
func NormalizeMimeType(mimeType string, fileName string, data []byte) string {
	clean := baseType(mimeType)
	ext := strings.ToLower(filepath.Ext(fileName))

	switch clean {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case MimeXLS:
		if ext == ".csv" {
			return MimeCSV
		}
		if mapped := mapOOXMLFromZip(data); mapped != "" {
			return mapped
		}
		return clean
	case "", "application/octet-stream":
		if byExt := baseType(mime.TypeByExtension(ext)); byExt != "" {
			return byExt
		}
		return clean
	case "application/zip", "application/x-zip-compressed":
	default:
		return clean
	}

	if mapped := mapOOXMLFromZip(data); mapped != "" {
		return mapped
	}

	switch ext {
	case ".docx":
		return MimeDOCX
	case ".xlsx":
		return MimeXLSX
	case ".pptx":
		return mimePPTX
	default:
		return clean
	}
}

func baseType(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}

func mapOOXMLFromZip(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch strings.ReplaceAll(f.Name, "\\", "/") {
		case "word/document.xml":
			return MimeDOCX
		case "xl/workbook.xml":
			return MimeXLSX
		case "ppt/presentation.xml":
			return mimePPTX
		}
	}
	return ""
}

// Unsupported returns empty content for types no strategy handles.
type Unsupported struct{}

func (Unsupported) Name() string { return "unsupported" }

func (Unsupported) Extract(context.Context, []byte, string) (string, error) {
	return "", nil
}
