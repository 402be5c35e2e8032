package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	domain "github.com/hanko-field/rewards/internal/domain"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Cursor is the keyset position a page token resumes from.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Params bundles the paging and equality filters extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   map[string]string
}

// Pagination converts the params into the repository paging input.
func (p Params) Pagination() domain.Pagination {
	return domain.Pagination{PageSize: p.PageSize, PageToken: p.PageToken}
}

// Filter returns the value of an equality filter, or "".
func (p Params) Filter(field string) string {
	return p.Filters[field]
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedFilters maps query parameters to their permitted values. A nil value list accepts anything.
	AllowedFilters map[string][]string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params representation.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if rawToken := strings.TrimSpace(values.Get("pageToken")); rawToken != "" {
		cursor, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = rawToken
		params.Cursor = cursor
	}

	for field, allowed := range opts.AllowedFilters {
		raw := strings.ToLower(strings.TrimSpace(values.Get(field)))
		if raw == "" {
			continue
		}
		if allowed != nil && !slices.Contains(allowed, raw) {
			return Params{}, fmt.Errorf("%w: %s must be one of %s", ErrInvalidFilter, field, strings.Join(allowed, ", "))
		}
		if params.Filters == nil {
			params.Filters = make(map[string]string)
		}
		params.Filters[field] = raw
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}

	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	if strings.TrimSpace(raw) == "" {
		return defaultPageSize, nil
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

// PageSize clamps a repository page size into [1, DefaultMaxPageSize], defaulting when unset.
func PageSize(requested int) int {
	switch {
	case requested <= 0:
		return DefaultPageSize
	case requested > DefaultMaxPageSize:
		return DefaultMaxPageSize
	default:
		return requested
	}
}
