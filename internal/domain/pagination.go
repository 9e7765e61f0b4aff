package domain

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Page size bounds for list operations.
const (
	DefaultMaxResults = 100
	MaxMaxResults     = 1000
)

const pageTokenPrefix = "off:"

// PageRequest selects one window of a list operation. PageToken is opaque to
// callers; it is produced by NextPageToken.
type PageRequest struct {
	MaxResults int
	PageToken  string
}

// Offset decodes the page token. An empty or invalid token means 0.
func (p PageRequest) Offset() int {
	n, err := decodePageToken(p.PageToken)
	if err != nil {
		return 0
	}
	return n
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	}
	return p.MaxResults
}

// Validate rejects tokens NextPageToken could not have produced.
func (p PageRequest) Validate() error {
	if _, err := decodePageToken(p.PageToken); err != nil {
		return ErrValidation("invalid page token %q", p.PageToken)
	}
	return nil
}

// NextPageToken returns the token of the page after [offset, offset+limit),
// or "" when total is exhausted.
func NextPageToken(offset, limit int, total int64) string {
	next := offset + limit
	if next <= 0 || int64(next) >= total {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(pageTokenPrefix + strconv.Itoa(next)))
}

func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	s, ok := strings.CutPrefix(string(raw), pageTokenPrefix)
	if !ok {
		return 0, ErrValidation("page token has no offset")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrValidation("page token offset %q is invalid", s)
	}
	return n, nil
}
