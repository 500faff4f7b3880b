// Package initdata verifies signed initData payloads issued by Telegram to
// mini-apps. Verification follows the platform's canonicalization scheme and
// must match it byte for byte.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Verification failure reasons. Callers must collapse all three into a single
// unauthorized response so the cause is never leaked to the client.
var (
	ErrMalformedPayload  = errors.New("initdata: malformed payload")
	ErrSignatureMismatch = errors.New("initdata: signature mismatch")
	ErrMissingUserID     = errors.New("initdata: missing user id")
)

// The user id arrives under user[id]; older mini-app clients double-encode the
// brackets, so the raw form survives percent-decoding.
var userIDKeys = []string{"user[id]", "user%5Bid%5D"}

// Verify checks the HMAC signature of a raw initData payload and returns the
// asserted Telegram user id. botToken is the bot's secret token; its SHA-256
// digest keys the signature. Pure function of its inputs.
func Verify(raw, botToken string) (int64, error) {
	fields, passedHash, err := parse(raw)
	if err != nil {
		return 0, err
	}

	if !hmac.Equal([]byte(computeHash(fields, botToken)), []byte(passedHash)) {
		return 0, ErrSignatureMismatch
	}

	for _, key := range userIDKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		userID, parseErr := strconv.ParseInt(value, 10, 64)
		if parseErr != nil || userID == 0 {
			return 0, ErrMissingUserID
		}
		return userID, nil
	}

	return 0, ErrMissingUserID
}

// parse splits the query-string-shaped payload into decoded fields and
// extracts the hash field.
func parse(raw string) (map[string]string, string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, "", ErrMalformedPayload
	}

	fields := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, "", ErrMalformedPayload
		}

		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			return nil, "", ErrMalformedPayload
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, "", ErrMalformedPayload
		}

		fields[decodedKey] = decodedValue
	}

	passedHash, ok := fields["hash"]
	if !ok || passedHash == "" {
		return nil, "", ErrMalformedPayload
	}
	delete(fields, "hash")

	return fields, passedHash, nil
}

// computeHash builds the canonical data-check string (fields sorted by key,
// joined as key=value lines) and signs it with HMAC-SHA256 keyed by the
// SHA-256 digest of the bot token.
func computeHash(fields map[string]string, botToken string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+fields[key])
	}

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(lines, "\n")))

	return hex.EncodeToString(mac.Sum(nil))
}
