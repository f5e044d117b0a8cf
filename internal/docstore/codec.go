package docstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// Marshal renders v as canonical document JSON: two-space indentation,
// no HTML escaping and a trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes document JSON keeping numbers as json.Number so that
// values survive a read-modify-write untouched.
func Unmarshal(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// EncodeTransport base64-encodes UTF-8 document text for the contents API.
func EncodeTransport(content []byte) string {
	return base64.StdEncoding.EncodeToString(content)
}

// DecodeTransport reverses EncodeTransport. The contents API wraps base64
// payloads at 60 columns, so whitespace is ignored.
func DecodeTransport(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, encoded)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode transport content: %w", err)
	}
	return decoded, nil
}

// BlobToken returns the git blob hash of content, which is what GitHub
// reports as a file's sha. Hosts that are not GitHub use it so tokens mean
// the same thing on every backend.
func BlobToken(content []byte) Token {
	return Token(plumbing.ComputeHash(plumbing.BlobObject, content).String())
}
