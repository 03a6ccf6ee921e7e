package provider

import "encoding/base64"

// 1x1 transparent PNG.
const placeholderPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

var placeholder = mustDecode(placeholderPNG)

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Placeholder returns a copy of the deterministic placeholder image.
func Placeholder() []byte {
	out := make([]byte, len(placeholder))
	copy(out, placeholder)
	return out
}
