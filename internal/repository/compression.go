package repository

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// contentFormat prefixes every stored blob so a reader can tell the
// encoding apart from foreign or legacy data.
const contentFormat = "zb64:"

// CompressContent serialises v as JSON, deflates it with zlib and encodes
// the result as base64 behind the format prefix.
func CompressContent(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress content: %w", err)
	}
	return contentFormat + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecompressContent reverses CompressContent into v. Every failure wraps
// ErrDecode; a blob is never partially accepted.
func DecompressContent(blob string, v any) error {
	if !strings.HasPrefix(blob, contentFormat) {
		return fmt.Errorf("%w: unknown content format", ErrDecode)
	}
	packed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, contentFormat))
	if err != nil {
		return fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(packed))
	if err != nil {
		return fmt.Errorf("%w: zlib header: %v", ErrDecode, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("%w: zlib stream: %v", ErrDecode, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var tmp json.RawMessage
	if err := dec.Decode(&tmp); err != nil {
		return fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrDecode)
	}
	if err := json.Unmarshal(tmp, v); err != nil {
		return fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return nil
}
