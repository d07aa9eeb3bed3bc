// Package validate holds the webhook authentication rules shared by the
// provider endpoints.
package validate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/simpix/formalization/pkg/types/errs"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"

	MaxBodySize int = 1 * 1024 * 1024
)

// Signature checks an HMAC-SHA256 webhook signature. The providers sign
// "<unix timestamp>.<raw body>"; the timestamp travels alongside the
// signature and is bound into it, so a replayed body cannot be re-stamped.
func Signature(secret []byte, timestamp string, body []byte, provided string, now time.Time, maxSkew time.Duration) error {
	if timestamp == "" || provided == "" {
		return errs.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errs.ErrInvalidSignature
	}

	sent := time.Unix(ts, 0)
	if now.Sub(sent) > maxSkew || sent.Sub(now) > maxSkew {
		return errs.ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.", timestamp)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return errs.ErrInvalidSignature
	}

	return nil
}
