package profiles

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MaxHandleLen caps derived handle candidates before a collision suffix is added.
const MaxHandleLen = 20

const (
	maxSuffix      = 10000
	fallbackHandle = "user"
)

var (
	handleStrip   = regexp.MustCompile(`[^a-z0-9_]`)
	handlePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)
)

// NormalizeHandle lowercases raw, drops characters outside [a-z0-9_] and
// truncates to MaxHandleLen.
func NormalizeHandle(raw string) string {
	handle := handleStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "")
	if len(handle) > MaxHandleLen {
		handle = handle[:MaxHandleLen]
	}
	return handle
}

// DeriveHandleCandidate picks the handle supplied at sign-up, or the email
// local part when none was given, and normalizes it.
func DeriveHandleCandidate(metadataHandle, email string) string {
	source := strings.TrimSpace(metadataHandle)
	if source == "" {
		source = email
		if at := strings.Index(source, "@"); at >= 0 {
			source = source[:at]
		}
	}
	candidate := NormalizeHandle(source)
	if candidate == "" {
		return fallbackHandle
	}
	return candidate
}

// ValidHandle reports whether handle is acceptable for an explicit edit.
func ValidHandle(handle string) bool {
	return handlePattern.MatchString(handle)
}

// HandleExistsFunc reports whether a handle is already taken.
type HandleExistsFunc func(ctx context.Context, handle string) (bool, error)

// UniqueHandle returns candidate if free, else candidate1, candidate2, ...
func UniqueHandle(ctx context.Context, exists HandleExistsFunc, candidate string) (string, error) {
	if candidate == "" {
		candidate = fallbackHandle
	}
	taken, err := exists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !taken {
		return candidate, nil
	}
	for n := 1; n <= maxSuffix; n++ {
		next := fmt.Sprintf("%s%d", candidate, n)
		taken, err := exists(ctx, next)
		if err != nil {
			return "", err
		}
		if !taken {
			return next, nil
		}
	}
	return "", fmt.Errorf("no free handle for %q", candidate)
}
