// Package tools describes the conversion tools the service offers and the
// client-side file constraints each one enforces before any bytes leave the
// machine. The backend re-checks the same limits authoritatively.
package tools

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Key identifies a conversion tool. The value doubles as the wire value of
// the multipart "type" field.
type Key string

const (
	KeyPDFToWord Key = "pdf-word"
	KeyWordToPDF Key = "word-pdf"
	KeyJPGToPNG  Key = "jpg-png"
	KeyPNGToJPG  Key = "png-jpg"
)

// MaxUploadBytes is the client-side upload ceiling (20 MiB).
const MaxUploadBytes int64 = 20 * 1024 * 1024

// Config describes one conversion tool.
type Config struct {
	Key         Key
	Title       string
	Description string
	AcceptExts  []string // lowercase, dot-prefixed
	AcceptMIMEs []string
	OutputExt   string // dot-prefixed
}

var registry = map[Key]Config{
	KeyPDFToWord: {
		Key:         KeyPDFToWord,
		Title:       "PDF to Word",
		Description: "Convert PDF documents into editable Word files.",
		AcceptExts:  []string{".pdf"},
		AcceptMIMEs: []string{"application/pdf"},
		OutputExt:   ".docx",
	},
	KeyWordToPDF: {
		Key:         KeyWordToPDF,
		Title:       "Word to PDF",
		Description: "Convert Word documents into print-ready PDFs.",
		AcceptExts:  []string{".docx", ".doc"},
		AcceptMIMEs: []string{
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/msword",
		},
		OutputExt: ".pdf",
	},
	KeyJPGToPNG: {
		Key:         KeyJPGToPNG,
		Title:       "JPG to PNG",
		Description: "Convert JPG images into high-quality PNG.",
		AcceptExts:  []string{".jpg", ".jpeg"},
		AcceptMIMEs: []string{"image/jpeg"},
		OutputExt:   ".png",
	},
	KeyPNGToJPG: {
		Key:         KeyPNGToJPG,
		Title:       "PNG to JPG",
		Description: "Convert PNG images into compact JPG.",
		AcceptExts:  []string{".png"},
		AcceptMIMEs: []string{"image/png"},
		OutputExt:   ".jpg",
	},
}

// Lookup returns the config for key.
func Lookup(key Key) (Config, error) {
	cfg, ok := registry[key]
	if !ok {
		return Config{}, fmt.Errorf("unknown tool: %q", key)
	}
	return cfg, nil
}

// Keys returns all tool keys in stable order.
func Keys() []Key {
	keys := make([]Key, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Accept returns the accepted extensions as a display string, e.g. ".jpg, .jpeg".
func (c Config) Accept() string {
	return strings.Join(c.AcceptExts, ", ")
}

// OutputName derives the result file name from an input name by replacing
// the final extension with the tool's output extension. Extension case and
// dot multiplicity in the base name do not matter: "Scan.Final.PDF" with a
// ".docx" tool yields "Scan.Final.docx".
func (c Config) OutputName(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base + c.OutputExt
}

// ValidationError reports a client-side rejection of a candidate file.
type ValidationError struct {
	Reason  string // "type" or "size"
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateFile checks a candidate file against the tool's accepted set and
// the upload ceiling. Either a matching extension or a matching detected
// MIME type is sufficient; detectedMIME may be empty when sniffing was not
// possible.
func (c Config) ValidateFile(name string, size int64, detectedMIME string) error {
	if !c.acceptsExt(name) && !c.acceptsMIME(detectedMIME) {
		return &ValidationError{
			Reason:  "type",
			Message: fmt.Sprintf("unsupported file type for %s: expected %s", c.Title, c.Accept()),
		}
	}
	if size > MaxUploadBytes {
		return &ValidationError{
			Reason:  "size",
			Message: fmt.Sprintf("file too large: limit is %d MB", MaxUploadBytes/(1024*1024)),
		}
	}
	return nil
}

func (c Config) acceptsExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, accepted := range c.AcceptExts {
		if ext == accepted {
			return true
		}
	}
	return false
}

func (c Config) acceptsMIME(detected string) bool {
	if detected == "" {
		return false
	}
	for _, accepted := range c.AcceptMIMEs {
		if mimetype.EqualsAny(detected, accepted) {
			return true
		}
	}
	return false
}

// DetectMIME sniffs the content type of the file at path. It returns an
// empty string when the file cannot be read; validation then falls back to
// the extension check alone.
func DetectMIME(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return mtype.String()
}

// DetectMIMEBytes sniffs the content type of an in-memory file.
func DetectMIMEBytes(data []byte) string {
	return mimetype.Detect(data).String()
}
