// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType is returned for content that is not PDF, DOCX or plain text.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrEmptyText is returned when a supported document yields no text.
	ErrEmptyText = errors.New("document contains no extractable text")
	// ErrInvalidText is returned when a document decodes to bytes that are not UTF-8.
	ErrInvalidText = errors.New("extracted text is not valid UTF-8")
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEText = "text/plain"
)

// Extractor extracts text from raw document bytes.
type Extractor interface {
	Extract(data []byte, declaredType string) (string, error)
}

// Sniffer detects the document type from its content and ignores the declared
// type unless content detection is inconclusive.
type Sniffer struct{}

// New returns the default content-sniffing extractor.
func New() *Sniffer { return &Sniffer{} }

// Detect reports the content type used for extraction. Any text/* subtype
// counts as plain text.
func Detect(data []byte, declaredType string) string {
	m := mimetype.Detect(data)
	switch {
	case m.Is(MIMEPDF):
		return MIMEPDF
	case m.Is(MIMEDOCX):
		return MIMEDOCX
	case m.Is("application/zip") && strings.HasPrefix(declaredType, MIMEDOCX):
		// docx archives whose first entries are not under word/ still sniff as zip
		return MIMEDOCX
	}
	for p := m; p != nil; p = p.Parent() {
		if p.Is(MIMEText) {
			return MIMEText
		}
	}
	return m.String()
}

func (s *Sniffer) Extract(data []byte, declaredType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyText
	}

	var (
		text string
		err  error
	)
	switch kind := Detect(data, declaredType); kind {
	case MIMEPDF:
		text, err = fromPDF(data)
	case MIMEDOCX:
		text, err = fromDOCX(data)
	case MIMEText:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedType)
		}
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
	if err != nil {
		return "", err
	}

	return finalize(text)
}

// finalize normalizes extracted text and rejects results the store cannot hold.
func finalize(text string) (string, error) {
	text = normalize(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if !utf8.ValidString(text) {
		return "", ErrInvalidText
	}
	return text, nil
}

func fromPDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	pr, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, pr); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// normalize trims trailing whitespace per line and collapses runs of blank lines.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t ")
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
