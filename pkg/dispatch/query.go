package dispatch

import (
	"net/url"
	"strconv"
	"strings"
)

// QueryOptions are the live-only request knobs: field selection, filters and
// pagination hints. They are appended to the URL by the live sink and never
// survive inside a recorded batch sub-request.
type QueryOptions struct {
	// Sort is the server-side sort expression, e.g. "-last_modified".
	Sort string

	// Limit caps the page size. Zero means server default.
	Limit int

	// Since is the opaque change token a listing resumes from.
	Since string

	// Fields restricts the returned record fields.
	Fields []string

	// Filters are caller-formatted filter parameters, passed through
	// opaquely (the filter grammar is a server concern).
	Filters map[string]string
}

// IsZero reports whether no query option is set.
func (q QueryOptions) IsZero() bool {
	return q.Sort == "" && q.Limit == 0 && q.Since == "" &&
		len(q.Fields) == 0 && len(q.Filters) == 0
}

// Values renders the options as URL query parameters.
func (q QueryOptions) Values() url.Values {
	values := url.Values{}
	for name, value := range q.Filters {
		values.Set(name, value)
	}
	if q.Sort != "" {
		values.Set("_sort", q.Sort)
	}
	if q.Limit > 0 {
		values.Set("_limit", strconv.Itoa(q.Limit))
	}
	if q.Since != "" {
		values.Set("_since", q.Since)
	}
	if len(q.Fields) > 0 {
		values.Set("_fields", strings.Join(q.Fields, ","))
	}
	return values
}

// appendQuery merges extra query parameters into rawURL, keeping any that
// are already present (server-issued continuation URLs come pre-populated).
func appendQuery(rawURL string, extra url.Values) (string, error) {
	if len(extra) == 0 {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	values := parsed.Query()
	for name, list := range extra {
		for _, value := range list {
			values.Set(name, value)
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}
