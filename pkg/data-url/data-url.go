package data_url

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultImageMIME = "image/jpeg"

	scheme       = "data:"
	base64Marker = ";base64"
)

var ErrInvalidDataURL = errors.New("invalid data url")

type DataURL struct {
	MIME string
	Data []byte
}

func IsDataURL(s string) bool {
	return strings.HasPrefix(s, scheme)
}

func Encode(mime string, data []byte) string {
	return scheme + mime + base64Marker + "," + base64.StdEncoding.EncodeToString(data)
}

// Decode parses a base64 data URL. Parameters after the media type are
// dropped.
func Decode(s string) (DataURL, error) {
	if !IsDataURL(s) {
		return DataURL{}, fmt.Errorf("%w: missing %q scheme", ErrInvalidDataURL, scheme)
	}
	header, payload, ok := strings.Cut(s[len(scheme):], ",")
	if !ok {
		return DataURL{}, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}
	if !strings.HasSuffix(header, base64Marker) {
		return DataURL{}, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	mime, _, _ := strings.Cut(strings.TrimSuffix(header, base64Marker), ";")

	data, err := decodeBase64(payload)
	if err != nil {
		return DataURL{}, err
	}
	return DataURL{MIME: strings.ToLower(strings.TrimSpace(mime)), Data: data}, nil
}

// CanonicalImage rewrites an inline image, with or without descriptor, into
// "data:<image mime>;base64,<payload>". Non-image or missing media types
// become DefaultImageMIME.
func CanonicalImage(s string) (string, error) {
	mime := DefaultImageMIME
	if IsDataURL(s) {
		decoded, err := Decode(s)
		if err != nil {
			return "", err
		}
		if len(decoded.Data) == 0 {
			return "", fmt.Errorf("%w: empty image", ErrInvalidDataURL)
		}
		if strings.HasPrefix(decoded.MIME, "image/") {
			mime = decoded.MIME
		}
		return Encode(mime, decoded.Data), nil
	}

	data, err := decodeBase64(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidDataURL)
	}
	return Encode(mime, data), nil
}

func decodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if data, rawErr := base64.RawStdEncoding.DecodeString(payload); rawErr == nil {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
}
