package provider

import "github.com/gabriel-vasile/mimetype"

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEGIF  = "image/gif"
	MIMEWebP = "image/webp"
)

// DetectMIME sniffs the image format from its leading bytes. Only formats the
// provider accepts are reported; anything else is treated as JPEG.
func DetectMIME(b []byte) string {
	if m, ok := AcceptedMIME(b); ok {
		return m
	}
	return MIMEJPEG
}

// AcceptedMIME reports the sniffed image type of b and whether the provider
// accepts it.
func AcceptedMIME(b []byte) (string, bool) {
	m := mimetype.Detect(b)
	for _, accepted := range []string{MIMEJPEG, MIMEPNG, MIMEGIF, MIMEWebP} {
		if m.Is(accepted) {
			return accepted, true
		}
	}
	return m.String(), false
}

// Extension returns the file extension used when storing an image of the
// given MIME type.
func Extension(mimeType string) string {
	switch mimeType {
	case MIMEPNG:
		return "png"
	case MIMEGIF:
		return "gif"
	case MIMEWebP:
		return "webp"
	default:
		return "jpg"
	}
}
