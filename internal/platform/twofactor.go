package platform

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	codeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"
	codeLength   = 5
	codePeriod   = 30
)

// AuthCode derives the 5-character mobile authenticator code for t from a
// base64 shared secret. Codes rotate every 30 seconds.
func AuthCode(sharedSecret string, t time.Time) (string, error) {
	key, err := base64.StdEncoding.DecodeString(sharedSecret)
	if err != nil {
		return "", fmt.Errorf("decode shared secret: %w", err)
	}
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(t.Unix()/codePeriod))

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	full := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[full%uint32(len(codeAlphabet))]
		full /= uint32(len(codeAlphabet))
	}
	return string(code), nil
}
