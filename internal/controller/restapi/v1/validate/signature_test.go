package validate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/simpix/formalization/pkg/types/errs"
)

func sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.", timestamp)
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"event":"auto_close"}`)
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	skew := 5 * time.Minute

	t.Run("valid", func(t *testing.T) {
		if err := Signature(secret, ts, body, sign(secret, ts, body), now, skew); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := Signature(secret, ts, body, sign([]byte("other"), ts, body), now, skew)
		if !errors.Is(err, errs.ErrInvalidSignature) {
			t.Fatalf("err = %v, want %v", err, errs.ErrInvalidSignature)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		err := Signature(secret, ts, []byte(`{"event":"cancel"}`), sign(secret, ts, body), now, skew)
		if !errors.Is(err, errs.ErrInvalidSignature) {
			t.Fatalf("err = %v, want %v", err, errs.ErrInvalidSignature)
		}
	})

	t.Run("restamped timestamp", func(t *testing.T) {
		other := strconv.FormatInt(now.Add(time.Minute).Unix(), 10)
		err := Signature(secret, other, body, sign(secret, ts, body), now, skew)
		if !errors.Is(err, errs.ErrInvalidSignature) {
			t.Fatalf("err = %v, want %v", err, errs.ErrInvalidSignature)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
		err := Signature(secret, old, body, sign(secret, old, body), now, skew)
		if !errors.Is(err, errs.ErrStaleTimestamp) {
			t.Fatalf("err = %v, want %v", err, errs.ErrStaleTimestamp)
		}
	})

	t.Run("future timestamp", func(t *testing.T) {
		future := strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)
		err := Signature(secret, future, body, sign(secret, future, body), now, skew)
		if !errors.Is(err, errs.ErrStaleTimestamp) {
			t.Fatalf("err = %v, want %v", err, errs.ErrStaleTimestamp)
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		if err := Signature(secret, "", body, "", now, skew); !errors.Is(err, errs.ErrInvalidSignature) {
			t.Fatalf("err = %v, want %v", err, errs.ErrInvalidSignature)
		}
	})

	t.Run("non numeric timestamp", func(t *testing.T) {
		err := Signature(secret, "yesterday", body, sign(secret, "yesterday", body), now, skew)
		if !errors.Is(err, errs.ErrInvalidSignature) {
			t.Fatalf("err = %v, want %v", err, errs.ErrInvalidSignature)
		}
	})
}
