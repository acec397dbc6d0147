package ingest

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for files matching no registered format.
	ErrUnsupportedFormat = errors.New("unsupported file type")
	// ErrFileTooLarge is returned when a file exceeds its format limit.
	ErrFileTooLarge = errors.New("file size exceeds maximum limit")
	// ErrServerSideFormat marks formats that need a document conversion
	// service this process does not run.
	ErrServerSideFormat = errors.New("format requires server-side processing")
)

// IngestionError reports a failure to turn an uploaded file into text.
// It is distinct from an analysis that found nothing.
type IngestionError struct {
	File string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion of %q failed: %v", e.File, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Format names a supported file kind.
type Format string

const (
	FormatText Format = "txt"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatHTML Format = "html"
	FormatRTF  Format = "rtf"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatDOC  Format = "doc"
	FormatXLSX Format = "xlsx"
)

const mb = 1024 * 1024

// FormatConfig describes one registered format.
type FormatConfig struct {
	Format         Format   `json:"format"`
	Extensions     []string `json:"extensions"`
	MimeTypes      []string `json:"mimeTypes"`
	MaxSize        int64    `json:"maxSize"`
	Description    string   `json:"description"`
	RequiresServer bool     `json:"requiresServer"`
}

// Registry resolves uploads to formats and enforces their size limits.
type Registry struct {
	formats []FormatConfig
}

func defaultFormats() []FormatConfig {
	return []FormatConfig{
		{FormatText, []string{".txt", ".text", ".log"}, []string{"text/plain"}, 10 * mb, "Plain text files", false},
		{FormatCSV, []string{".csv"}, []string{"text/csv", "application/csv"}, 50 * mb, "Comma-separated values", false},
		{FormatJSON, []string{".json"}, []string{"application/json"}, 10 * mb, "JSON data files", false},
		{FormatXML, []string{".xml"}, []string{"text/xml", "application/xml"}, 20 * mb, "XML documents", false},
		{FormatHTML, []string{".html", ".htm"}, []string{"text/html"}, 10 * mb, "HTML documents", false},
		{FormatRTF, []string{".rtf"}, []string{"application/rtf", "text/rtf"}, 20 * mb, "Rich Text Format documents", false},
		{FormatPDF, []string{".pdf"}, []string{"application/pdf"}, 100 * mb, "PDF documents", true},
		{FormatDOCX, []string{".docx"}, []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, 50 * mb, "Microsoft Word documents", true},
		{FormatDOC, []string{".doc"}, []string{"application/msword"}, 50 * mb, "Legacy Microsoft Word documents", true},
		{FormatXLSX, []string{".xlsx"}, []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}, 100 * mb, "Microsoft Excel spreadsheets", true},
	}
}

// NewRegistry returns the built-in formats with limits overridden by
// format name.
func NewRegistry(limits map[string]int64) *Registry {
	formats := defaultFormats()
	for i := range formats {
		if limit, ok := limits[string(formats[i].Format)]; ok && limit > 0 {
			formats[i].MaxSize = limit
		}
	}
	return &Registry{formats: formats}
}

// Formats lists the registered formats.
func (r *Registry) Formats() []FormatConfig {
	out := make([]FormatConfig, len(r.formats))
	copy(out, r.formats)
	return out
}

// Lookup resolves a file by MIME type first and by extension second.
// Parameters such as "; charset=utf-8" are ignored.
func (r *Registry) Lookup(name, mimeType string) (FormatConfig, bool) {
	if mimeType != "" {
		mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
		for _, f := range r.formats {
			for _, m := range f.MimeTypes {
				if m == mimeType {
					return f, true
				}
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return FormatConfig{}, false
	}
	for _, f := range r.formats {
		for _, e := range f.Extensions {
			if e == ext {
				return f, true
			}
		}
	}
	return FormatConfig{}, false
}

// Validate checks that a file of the given size is acceptable.
func (r *Registry) Validate(name, mimeType string, size int64) (FormatConfig, error) {
	f, ok := r.Lookup(name, mimeType)
	if !ok {
		return FormatConfig{}, fmt.Errorf("%w: %s. Supported formats: %s", ErrUnsupportedFormat, describe(name, mimeType), r.extensionList())
	}
	if size > f.MaxSize {
		return f, fmt.Errorf("%w of %s", ErrFileTooLarge, FormatFileSize(f.MaxSize))
	}
	return f, nil
}

func (r *Registry) extensionList() string {
	exts := make([]string, 0, len(r.formats))
	for _, f := range r.formats {
		exts = append(exts, f.Extensions[0])
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}

func describe(name, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	return name
}

// FormatFileSize renders a byte count for display, e.g. "1.5 MB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}

	value := float64(bytes) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(value*100)/100, 'f', -1, 64) + " " + sizes[i]
}
