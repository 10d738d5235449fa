package converter

import (
	"path"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// supportedExtensions are the office formats LibreOffice converts reliably.
var supportedExtensions = map[string]struct{}{
	// Word documents
	"doc": {}, "docx": {}, "odt": {}, "rtf": {},
	// Spreadsheets
	"xls": {}, "xlsx": {}, "ods": {}, "csv": {},
	// Presentations
	"ppt": {}, "pptx": {}, "odp": {},
}

// Supported reports whether ext (without the dot, any case) can be converted.
func Supported(ext string) bool {
	_, ok := supportedExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}

// SupportedExtensions returns the convertible extensions in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// HintExtension extracts a lower-case extension from a format hint, which is
// either a file name ("report.DOCX"), a bare extension ("docx", ".docx") or
// empty. It returns "" when the hint names no extension.
func HintExtension(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	if ext := path.Ext(strings.ReplaceAll(hint, "\\", "/")); ext != "" {
		return strings.ToLower(ext[1:])
	}
	if Supported(hint) {
		return strings.ToLower(hint)
	}
	return ""
}

// ResolveExtension returns the extension used to convert content. The hint
// wins; content sniffing is only consulted when the hint names no extension.
func ResolveExtension(hint string, content []byte) string {
	if ext := HintExtension(hint); ext != "" {
		return ext
	}
	if len(content) == 0 {
		return ""
	}
	return strings.TrimPrefix(mimetype.Detect(content).Extension(), ".")
}
