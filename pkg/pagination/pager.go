package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

var pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vessel_pages_fetched_total",
	Help: "Total result pages fetched",
})

// PagesAll requests an unbounded traversal: follow Next-Page links until the
// server stops advertising one.
const PagesAll = -1

// TotalNotComputed is the TotalRecords sentinel: this client never derives a
// true total count from pagination headers.
const TotalNotComputed = -1

// ErrPaginationExhausted is returned by Page.Next when no further page
// exists.
var ErrPaginationExhausted = errors.New("pagination exhausted")

// DefaultSort orders listings newest first.
const DefaultSort = "-last_modified"

// Options controls a paginated traversal.
type Options struct {
	// Sort overrides DefaultSort.
	Sort string

	// Filters are caller-formatted filter parameters.
	Filters map[string]string

	// Limit caps the page size.
	Limit int

	// Pages bounds the traversal depth: 0 fetches a single page, PagesAll
	// follows every page, n > 0 accumulates at most n pages.
	Pages int

	// Since resumes from an opaque change token.
	Since string

	// Fields restricts the returned record fields.
	Fields []string
}

// RequestOptions tunes the underlying exchanges.
type RequestOptions struct {
	// Method defaults to GET. DELETE reuses the identical page-following
	// logic for deletion traversal.
	Method string

	// Headers pass through unmodified (If-Match and friends included).
	Headers http.Header

	// RetryBudget bounds Retry-After re-sends per page.
	RetryBudget int
}

// Page is one traversal result. Data holds raw record documents in server
// order.
type Page struct {
	// LastModified is the collection change token (ETag, quotes stripped).
	LastModified string

	Data        []json.RawMessage
	HasNextPage bool

	// TotalRecords is TotalNotComputed unless the producer knows the exact
	// count (snapshots do).
	TotalRecords int

	next func(ctx context.Context) (*Page, error)
}

// Next fetches the following page. Fails with ErrPaginationExhausted when
// the traversal has no further page.
func (p *Page) Next(ctx context.Context) (*Page, error) {
	if p.next == nil {
		return nil, ErrPaginationExhausted
	}
	return p.next(ctx)
}

// WithNext returns a copy of the page using the given continuation.
// Producers that do not support pagination (snapshots) install a failing
// one.
func (p *Page) WithNext(next func(ctx context.Context) (*Page, error)) *Page {
	out := *p
	out.next = next
	return &out
}

// Pager issues paginated operations through a sink.
type Pager struct {
	sink   dispatch.Sink
	logger zerolog.Logger
}

// New creates a Pager.
func New(sink dispatch.Sink) *Pager {
	return &Pager{
		sink:   sink,
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// Paginate traverses the resource at path. With Pages unset it returns the
// first page and a lazy continuation; otherwise it accumulates results
// across successive pages, strictly sequentially, until the bound or the
// last page is reached.
func (p *Pager) Paginate(ctx context.Context, path string, opts Options, reqOpts RequestOptions) (*Page, error) {
	if opts.Since != "" {
		if _, err := strconv.ParseInt(opts.Since, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid since token %q: expected an opaque change token", opts.Since)
		}
	}

	sort := opts.Sort
	if sort == "" {
		sort = DefaultSort
	}
	query := dispatch.QueryOptions{
		Sort:    sort,
		Limit:   opts.Limit,
		Since:   opts.Since,
		Fields:  opts.Fields,
		Filters: opts.Filters,
	}

	data, etag, nextURL, err := p.fetch(ctx, path, query, reqOpts)
	if err != nil {
		return nil, err
	}

	if opts.Pages == 0 {
		return p.lazyPage(data, etag, nextURL, reqOpts), nil
	}

	fetched := 1
	for nextURL != "" && (opts.Pages == PagesAll || fetched < opts.Pages) {
		nextData, nextETag, followURL, err := p.fetch(ctx, nextURL, dispatch.QueryOptions{}, reqOpts)
		if err != nil {
			return nil, err
		}
		data = append(data, nextData...)
		if nextETag != "" {
			etag = nextETag
		}
		nextURL = followURL
		fetched++
	}

	p.logger.Debug().
		Str("path", path).
		Int("pages", fetched).
		Int("records", len(data)).
		Msg("Traversal complete")

	return p.lazyPage(data, etag, nextURL, reqOpts), nil
}

// fetch issues one page request and extracts the continuation signals.
func (p *Pager) fetch(ctx context.Context, path string, query dispatch.QueryOptions, reqOpts RequestOptions) (data []json.RawMessage, etag, nextURL string, err error) {
	resp, err := p.sink.Execute(ctx, transport.Request{
		Method:  reqOpts.Method,
		Path:    path,
		Headers: reqOpts.Headers,
	}, dispatch.Options{RetryBudget: reqOpts.RetryBudget, Query: query})
	if err != nil {
		return nil, "", "", err
	}
	pagesFetchedTotal.Inc()

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return nil, "", "", fmt.Errorf("decode page body: %w", err)
		}
	}

	etag = strings.Trim(resp.Headers.Get("ETag"), `"`)
	nextURL = resp.Headers.Get("Next-Page")
	return payload.Data, etag, nextURL, nil
}

// lazyPage assembles a Page whose continuation fetches nextURL on demand.
func (p *Pager) lazyPage(data []json.RawMessage, etag, nextURL string, reqOpts RequestOptions) *Page {
	page := &Page{
		LastModified: etag,
		Data:         data,
		HasNextPage:  nextURL != "",
		TotalRecords: TotalNotComputed,
	}
	if nextURL != "" {
		page.next = func(ctx context.Context) (*Page, error) {
			nextData, nextETag, followURL, err := p.fetch(ctx, nextURL, dispatch.QueryOptions{}, reqOpts)
			if err != nil {
				return nil, err
			}
			return p.lazyPage(nextData, nextETag, followURL, reqOpts), nil
		}
	}
	return page
}
