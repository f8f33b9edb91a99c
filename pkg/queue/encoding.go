package queue

import (
	"encoding/base64"
	"fmt"
)

// Encoding describes how message content is represented on the queue
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingNone   Encoding = "none"
)

// ParseEncoding maps a configuration value to an Encoding
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingBase64, "":
		return EncodingBase64, nil
	case EncodingNone:
		return EncodingNone, nil
	default:
		return "", fmt.Errorf("unsupported message encoding: %s", s)
	}
}

// Encode converts message content into queue text
func (e Encoding) Encode(data []byte) []byte {
	if e != EncodingBase64 {
		return data
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out
}

// Decode converts queue text back into message content
func (e Encoding) Decode(body []byte) ([]byte, error) {
	if e != EncodingBase64 {
		return body, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(out, body)
	if err != nil {
		return nil, fmt.Errorf("message is not valid base64: %w", err)
	}
	return out[:n], nil
}
