package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Document is the text extracted from one uploaded file.
type Document struct {
	Name     string         `json:"name"`
	Format   Format         `json:"format"`
	Size     int64          `json:"size"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

var (
	rtfControlWord = regexp.MustCompile(`\\([a-zA-Z]+)-?\d* ?`)
	rtfHexEscape   = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
)

// Extract reads a file and returns its analyzable text. Every failure is an
// *IngestionError.
func (r *Registry) Extract(name, mimeType string, rd io.Reader) (*Document, error) {
	f, ok := r.Lookup(name, mimeType)
	if !ok {
		_, err := r.Validate(name, mimeType, 0)
		return nil, &IngestionError{File: name, Err: err}
	}
	if f.RequiresServer {
		return nil, &IngestionError{File: name, Err: fmt.Errorf("%w: %s", ErrServerSideFormat, f.Description)}
	}

	data, err := io.ReadAll(io.LimitReader(rd, f.MaxSize+1))
	if err != nil {
		return nil, &IngestionError{File: name, Err: fmt.Errorf("failed to read file: %w", err)}
	}
	if int64(len(data)) > f.MaxSize {
		return nil, &IngestionError{File: name, Err: fmt.Errorf("%w of %s", ErrFileTooLarge, FormatFileSize(f.MaxSize))}
	}
	if !utf8.Valid(data) {
		return nil, &IngestionError{File: name, Err: errors.New("file is not valid UTF-8 text")}
	}

	doc := &Document{
		Name:   name,
		Format: f.Format,
		Size:   int64(len(data)),
		Metadata: map[string]any{
			"fileSize":         FormatFileSize(int64(len(data))),
			"fileType":         f.Description,
			"processingMethod": "server-side",
		},
	}

	switch f.Format {
	case FormatText:
		doc.Text = string(data)
	case FormatCSV:
		err = extractCSV(data, doc)
	case FormatJSON:
		err = extractJSON(data, doc)
	case FormatXML:
		err = extractXML(data, doc)
	case FormatHTML:
		err = extractHTML(data, doc)
	case FormatRTF:
		doc.Text = extractRTF(string(data))
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
	if err != nil {
		return nil, &IngestionError{File: name, Err: err}
	}

	return doc, nil
}

// extractCSV keeps the raw text so detection offsets refer to the file, and
// records the header and row count.
func extractCSV(data []byte, doc *Document) error {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("invalid CSV format: %w", err)
	}

	headers := []string{}
	if len(rows) > 0 {
		for _, h := range rows[0] {
			headers = append(headers, strings.TrimSpace(h))
		}
		rows = rows[1:]
	}

	doc.Text = string(data)
	doc.Metadata["headers"] = headers
	doc.Metadata["rowCount"] = len(rows)
	return nil
}

func extractJSON(data []byte, doc *Document) error {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}

	kind := "object"
	switch parsed.(type) {
	case []any:
		kind = "array"
	case string:
		kind = "string"
	case float64:
		kind = "number"
	case bool:
		kind = "boolean"
	case nil:
		kind = "null"
	}

	doc.Text = pretty.String()
	doc.Metadata["type"] = kind
	return nil
}

// extractXML returns the character data of the document, one text node per
// line.
func extractXML(data []byte, doc *Document) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var parts []string
	root := ""

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("XML parsing error: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root == "" {
				root = t.Name.Local
			}
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if root == "" {
		return errors.New("XML parsing error: no root element")
	}

	doc.Text = strings.Join(parts, "\n")
	doc.Metadata["rootElement"] = root
	return nil
}

// extractHTML returns the visible body text. Script and style content is
// dropped.
func extractHTML(data []byte, doc *Document) error {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("HTML parsing error: %w", err)
	}

	var (
		parts     []string
		title     string
		hasImages bool
		hasLinks  bool
		walk      func(n *html.Node, inBody bool)
	)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "img":
				hasImages = true
			case "a":
				hasLinks = true
			case "body":
				inBody = true
			}
		}
		if n.Type == html.TextNode && inBody {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(root, false)

	doc.Text = strings.Join(parts, "\n")
	doc.Metadata["title"] = title
	doc.Metadata["hasImages"] = hasImages
	doc.Metadata["hasLinks"] = hasLinks
	return nil
}

// extractRTF strips control words and groups, keeping the document text.
func extractRTF(raw string) string {
	text := strings.ReplaceAll(raw, `\\`, "\x00")
	text = strings.ReplaceAll(text, `\{`, "\x01")
	text = strings.ReplaceAll(text, `\}`, "\x02")
	text = rtfHexEscape.ReplaceAllString(text, "'")
	text = rtfControlWord.ReplaceAllStringFunc(text, func(word string) string {
		name := rtfControlWord.FindStringSubmatch(word)[1]
		if name == "par" || name == "line" {
			return "\n"
		}
		return ""
	})
	text = strings.NewReplacer("{", "", "}", "").Replace(text)
	text = strings.NewReplacer("\x00", `\`, "\x01", "{", "\x02", "}").Replace(text)
	return strings.TrimSpace(text)
}
