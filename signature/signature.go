// Package signature holds the digest and comparison primitives used to sign
// outbound provider requests and to verify inbound webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// HMACSHA256 returns the HMAC-SHA256 of body keyed with secret
func HMACSHA256(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// HMACSHA512 returns the HMAC-SHA512 of body keyed with secret
func HMACSHA512(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// CryptomusSign returns md5(base64(body) + apiKey) as used by Cryptomus for
// both request signing and webhook signatures.
func CryptomusSign(body []byte, apiKey string) []byte {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + apiKey))
	return sum[:]
}

// BinancePayload builds the string Binance Pay signs: "timestamp\nnonce\nbody\n".
func BinancePayload(timestamp, nonce string, body []byte) []byte {
	buf := make([]byte, 0, len(timestamp)+len(nonce)+len(body)+3)
	buf = append(buf, timestamp...)
	buf = append(buf, '\n')
	buf = append(buf, nonce...)
	buf = append(buf, '\n')
	buf = append(buf, body...)
	buf = append(buf, '\n')
	return buf
}

// EqualHex compares a hex-encoded received signature against the expected
// digest in constant time. A "sha256=" style algorithm prefix is accepted.
// Hex case is ignored; anything that does not decode never matches.
func EqualHex(received string, expected []byte) bool {
	received = strings.TrimSpace(received)
	if i := strings.IndexByte(received, '='); i >= 0 {
		received = received[i+1:]
	}
	if received == "" || len(expected) == 0 {
		return false
	}

	decoded, err := hex.DecodeString(received)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expected)
}
