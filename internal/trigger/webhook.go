package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by webhook handling.
var (
	// ErrBadSignature is returned when the HMAC signature does not verify.
	ErrBadSignature = errors.New("webhook signature verification failed")
	// ErrIgnoredEvent is returned for deliveries that do not start a run.
	ErrIgnoredEvent = errors.New("webhook event ignored")
)

// TagPush is a verified tag-push event extracted from a webhook delivery.
type TagPush struct {
	// Tag is the pushed tag name as delivered.
	Tag string
	// Version is the normalized release version.
	Version string
	// Commit is the commit the tag points at.
	Commit string
}

// pushPayload is the subset of the forge push payload we consume.
type pushPayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
}

// VerifySignature checks the hex HMAC-SHA256 signature header ("sha256=...")
// against the delivery body and the shared secret.
func VerifySignature(secret string, body []byte, signatureHeader string) error {
	if secret == "" {
		return fmt.Errorf("webhook secret is not configured")
	}

	expected := strings.TrimPrefix(signatureHeader, "sha256=")
	if expected == signatureHeader {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// ParseTagPush extracts a release tag push from a verified delivery body.
// Both "push" deliveries with a refs/tags ref and "create" deliveries with
// ref_type tag are accepted. Deliveries for branches, tag deletions, and tags
// outside the release pattern return ErrIgnoredEvent.
func ParseTagPush(event string, body []byte) (*TagPush, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing webhook payload: %w", err)
	}

	var tag string
	switch event {
	case "push":
		if payload.Deleted {
			return nil, ErrIgnoredEvent
		}
		tag = strings.TrimPrefix(payload.Ref, "refs/tags/")
		if tag == payload.Ref {
			// Branch push.
			return nil, ErrIgnoredEvent
		}
	case "create":
		if payload.RefType != "tag" {
			return nil, ErrIgnoredEvent
		}
		tag = payload.Ref
	default:
		return nil, ErrIgnoredEvent
	}

	version, err := MatchTag(tag)
	if err != nil {
		return nil, ErrIgnoredEvent
	}

	return &TagPush{
		Tag:     tag,
		Version: version,
		Commit:  payload.After,
	}, nil
}
