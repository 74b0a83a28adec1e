package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// versionSeparator joins queue ids before hashing; it cannot appear in uuid ids.
const versionSeparator = "\x1f"

// QueueVersion derives the version token for a queue revision and ordering.
//
// The token is "<revision>.<digest>" where digest is the xxh3 hash of the ordered queue ids, so two
// stores that agree on revision and order always agree on the token.
func QueueVersion(revision int64, orderedIDs []string) string {
	digest := xxh3.HashString(strings.Join(orderedIDs, versionSeparator))
	return fmt.Sprintf("%d.%016x", revision, digest)
}

// VersionRevision extracts the revision counter from a version token.
func VersionRevision(token string) (int64, error) {
	head, _, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || head == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, token)
	}
	revision, err := strconv.ParseInt(head, 10, 64)
	if err != nil || revision < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersion, token)
	}
	return revision, nil
}
