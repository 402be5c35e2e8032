package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Keyset is the (createdAt, id) position of the last item on a page. Ledger and redemption
// listings sort newest first with the id as tie breaker, so the pair is unique and stable.
type Keyset struct {
	CreatedAt time.Time
	ID        string
}

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 && len(cursor.StartAt) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// EncodeKeyset returns the page token that resumes after k.
func EncodeKeyset(k Keyset) (string, error) {
	if strings.TrimSpace(k.ID) == "" {
		return "", fmt.Errorf("pagination: keyset id is required")
	}
	return EncodeToken(Cursor{StartAfter: []any{k.CreatedAt.UTC().Format(time.RFC3339Nano), k.ID}})
}

// DecodeKeyset parses a token produced by EncodeKeyset. An empty token yields ok=false.
func DecodeKeyset(token string) (k Keyset, ok bool, err error) {
	if strings.TrimSpace(token) == "" {
		return Keyset{}, false, nil
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		return Keyset{}, false, err
	}
	if len(cursor.StartAfter) != 2 {
		return Keyset{}, false, ErrInvalidPageToken
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID || strings.TrimSpace(id) == "" {
		return Keyset{}, false, ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return Keyset{}, false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return Keyset{CreatedAt: createdAt, ID: id}, true, nil
}
