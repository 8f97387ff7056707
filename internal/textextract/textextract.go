// Package textextract implements the TextExtractor collaborator
// contract: given a path and a byte budget, return the file's MIME
// type and up to max_bytes of text, or report that the file isn't
// text (§6).
package textextract

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// sniffLen is how many leading bytes are read to decide whether a file
// is text before committing to reading up to maxBytes.
const sniffLen = 512

// Result is the outcome of extracting text from one file.
type Result struct {
	MimeType string
	Text     string
	// IsText is false when the file was classified as binary; Text is
	// empty in that case (the `text | null` half of the contract).
	IsText bool
}

// Extract reads up to maxBytes from path and classifies it. A maxBytes
// <= 0 uses DefaultMaxBytes.
func Extract(path string, maxBytes int) (Result, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	mime := MimeTypeForPath(path)

	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = f.Close() }()

	sniff := make([]byte, sniffLen)
	n, err := io.ReadFull(f, sniff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, err
	}
	sniff = sniff[:n]

	if !looksLikeText(sniff) {
		return Result{MimeType: mime, IsText: false}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, err
	}

	buf := make([]byte, maxBytes)
	n, err = io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, err
	}
	buf = buf[:n]

	return Result{MimeType: mime, Text: string(buf), IsText: true}, nil
}

// DefaultMaxBytes bounds a snippet's length when the caller doesn't
// specify one.
const DefaultMaxBytes = 64 * 1024

// looksLikeText rejects null bytes (a strong binary signal) and
// requires the sample to be valid UTF-8.
func looksLikeText(sample []byte) bool {
	if len(sample) == 0 {
		return true
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return false
	}
	return utf8.Valid(sample)
}

// mimeTypes maps file extensions to MIME types.
var mimeTypes = map[string]string{
	".go":   "text/x-go",
	".mod":  "text/x-go.mod",
	".sum":  "text/x-go.sum",
	".ts":   "text/typescript",
	".tsx":  "text/typescript",
	".js":   "text/javascript",
	".jsx":  "text/javascript",
	".mjs":  "text/javascript",
	".py":   "text/x-python",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".scss": "text/x-scss",
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".xml":  "text/xml",
	".toml": "text/x-toml",
	".md":   "text/markdown",
	".mdx":  "text/markdown",
	".txt":  "text/plain",
	".rst":  "text/x-rst",
	".env":  "text/plain",
	".ini":  "text/plain",
	".conf": "text/plain",
	".sh":   "text/x-sh",
	".bash": "text/x-sh",
	".zsh":  "text/x-sh",
	".sql":  "text/x-sql",
	".c":    "text/x-c",
	".cpp":  "text/x-c++",
	".h":    "text/x-c",
	".hpp":  "text/x-c++",
	".java": "text/x-java",
	".rs":   "text/x-rust",
	".rb":   "text/x-ruby",
	".php":  "text/x-php",
}

// specialFilenames maps specific filenames to MIME types.
var specialFilenames = map[string]string{
	"Dockerfile":     "text/x-dockerfile",
	"Makefile":       "text/x-makefile",
	"Jenkinsfile":    "text/x-groovy",
	"Vagrantfile":    "text/x-ruby",
	"Gemfile":        "text/x-ruby",
	"Rakefile":       "text/x-ruby",
	"CMakeLists.txt": "text/x-cmake",
}

// MimeTypeForPath returns the MIME type for a file path, checking
// special filenames first, then extension, defaulting to text/plain.
func MimeTypeForPath(path string) string {
	base := filepath.Base(path)
	if mime, ok := specialFilenames[base]; ok {
		return mime
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		if mime, ok := mimeTypes[ext]; ok {
			return mime
		}
	}
	return "text/plain"
}
