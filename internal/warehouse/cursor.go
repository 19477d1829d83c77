// SPDX-License-Identifier: Apache-2.0

package warehouse

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// cursorSeparator splits the two ordering fields inside a decoded cursor.
// RFC 3339 timestamps cannot contain it, so keys may.
const cursorSeparator = "|"

// encodeCursor packs the composite ordering key (created_at, key) into an
// opaque token. decodeCursor(encodeCursor(t, k)) returns exactly (t, k).
func encodeCursor(createdAt time.Time, key string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + cursorSeparator + key
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor: %w", err)
	}

	createdAtRaw, key, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return time.Time{}, "", fmt.Errorf("invalid cursor: missing separator")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}

	return createdAt, key, nil
}
