package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached response.
type Key struct {
	// Endpoint is the resource path (e.g. "/buckets/b/collections/c/records").
	Endpoint string

	// Query are the request query parameters.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: vessel:endpoint:param1=val1:param2=val2
func (k Key) String() string {
	parts := []string{"vessel"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Query.Get(name)))
		}
	}

	return strings.Join(parts, ":")
}
