package apix

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Param is a single query parameter. The gateway validates the request
// digest against the parameter values in the exact order they were sent,
// so parameters are kept as an ordered sequence, never a map.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter sequence for one gateway command.
type Params []Param

// Add appends a parameter, preserving order.
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Set replaces the value of an existing parameter in place, keeping its
// position. If the key is not present, the parameter is appended.
func (p Params) Set(key, value string) Params {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return p.Add(key, value)
}

// Remove deletes the parameter with the given key, if present.
func (p Params) Remove(key string) Params {
	for i := range p {
		if p[i].Key == key {
			return append(p[:i:i], p[i+1:]...)
		}
	}
	return p
}

// Get returns the value for key and whether it is present.
func (p Params) Get(key string) (string, bool) {
	for i := range p {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}
	return "", false
}

// Values returns the parameter values in sequence order.
func (p Params) Values() []string {
	values := make([]string, len(p))
	for i := range p {
		values[i] = p[i].Value
	}
	return values
}

// Digest computes the request authentication digest: the parameter values
// (not keys) joined with "+", hashed with SHA-256 and returned as a
// lowercase hex string with the "SHA-256:" tag the gateway expects.
func Digest(params Params) string {
	src := strings.Join(params.Values(), "+")
	sum := sha256.Sum256([]byte(src))
	return "SHA-256:" + hex.EncodeToString(sum[:])
}

// PasswordHash returns the hex SHA-256 of the plaintext password. It is
// used as a digest input and, for some commands, sent directly.
func PasswordHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Timestamp formats t the way the gateway wants it in ts/t parameters.
func Timestamp(t time.Time) string {
	return t.Format("20060102150405")
}
