package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

// pagedServer serves fixed pages of records and advertises Next-Page links.
type pagedServer struct {
	server   *httptest.Server
	pages    [][]string // record JSON documents per page
	requests []*http.Request
}

func newPagedServer(t *testing.T, pages [][]string) *pagedServer {
	t.Helper()
	ps := &pagedServer{pages: pages}

	ps.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.requests = append(ps.requests, r.Clone(r.Context()))

		page := 0
		if v := r.URL.Query().Get("page"); v != "" {
			page, _ = strconv.Atoi(v)
		}
		if page >= len(ps.pages) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("ETag", fmt.Sprintf(`"%d"`, 1000+page))
		if page+1 < len(ps.pages) {
			w.Header().Set("Next-Page", fmt.Sprintf("%s%s?page=%d", ps.server.URL, r.URL.Path, page+1))
		}
		fmt.Fprintf(w, `{"data": [%s]}`, joinRecords(ps.pages[page]))
	}))
	t.Cleanup(ps.server.Close)
	return ps
}

func joinRecords(records []string) string {
	out := ""
	for i, rec := range records {
		if i > 0 {
			out += ","
		}
		out += rec
	}
	return out
}

func newPager(remote string) *Pager {
	sink := dispatch.NewLiveSink(dispatch.LiveConfig{
		Remote:    remote,
		Transport: transport.New(transport.Config{}),
	})
	return New(sink)
}

func recordIDs(t *testing.T, data []json.RawMessage) []string {
	t.Helper()
	ids := make([]string, len(data))
	for i, raw := range data {
		var rec struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &rec))
		ids[i] = rec.ID
	}
	return ids
}

func TestPaginate_SinglePageDefault(t *testing.T) {
	ps := newPagedServer(t, [][]string{
		{`{"id": "a"}`, `{"id": "b"}`},
		{`{"id": "c"}`},
	})

	page, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, recordIDs(t, page.Data))
	assert.True(t, page.HasNextPage)
	assert.Equal(t, "1000", page.LastModified, "ETag quotes must be stripped")
	assert.Equal(t, TotalNotComputed, page.TotalRecords)
	assert.Len(t, ps.requests, 1, "default traversal must not auto-follow")
}

func TestPaginate_HasNextPageFalseOnLastPage(t *testing.T) {
	ps := newPagedServer(t, [][]string{{`{"id": "a"}`}})

	page, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{}, RequestOptions{})
	require.NoError(t, err)

	assert.False(t, page.HasNextPage)
	_, err = page.Next(context.Background())
	assert.ErrorIs(t, err, ErrPaginationExhausted)
}

func TestPaginate_Continuation(t *testing.T) {
	ps := newPagedServer(t, [][]string{
		{`{"id": "a"}`},
		{`{"id": "b"}`},
	})

	first, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{}, RequestOptions{})
	require.NoError(t, err)

	second, err := first.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, recordIDs(t, second.Data))
	assert.False(t, second.HasNextPage)

	_, err = second.Next(context.Background())
	assert.ErrorIs(t, err, ErrPaginationExhausted)
}

func TestPaginate_AllPages(t *testing.T) {
	// Pages of sizes [2, 1] concatenate to 3 records in order.
	ps := newPagedServer(t, [][]string{
		{`{"id": "a"}`, `{"id": "b"}`},
		{`{"id": "c"}`},
	})

	page, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{Pages: PagesAll}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, recordIDs(t, page.Data))
	assert.False(t, page.HasNextPage)
	assert.Equal(t, TotalNotComputed, page.TotalRecords)
	assert.Len(t, ps.requests, 2)
}

func TestPaginate_BoundedPages(t *testing.T) {
	ps := newPagedServer(t, [][]string{
		{`{"id": "a"}`},
		{`{"id": "b"}`},
		{`{"id": "c"}`},
	})

	page, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{Pages: 2}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, recordIDs(t, page.Data))
	assert.True(t, page.HasNextPage, "a third page remains")
	assert.Len(t, ps.requests, 2)
}

func TestPaginate_QueryParameters(t *testing.T) {
	ps := newPagedServer(t, [][]string{{`{"id": "a"}`}})

	_, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{
		Limit:   5,
		Since:   "1700000000000",
		Fields:  []string{"id", "title"},
		Filters: map[string]string{"min_rank": "3"},
	}, RequestOptions{})
	require.NoError(t, err)

	query := ps.requests[0].URL.Query()
	assert.Equal(t, DefaultSort, query.Get("_sort"))
	assert.Equal(t, "5", query.Get("_limit"))
	assert.Equal(t, "1700000000000", query.Get("_since"))
	assert.Equal(t, "id,title", query.Get("_fields"))
	assert.Equal(t, "3", query.Get("min_rank"))
}

func TestPaginate_SortOverride(t *testing.T) {
	ps := newPagedServer(t, [][]string{{`{"id": "a"}`}})

	_, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{Sort: "title"}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, "title", ps.requests[0].URL.Query().Get("_sort"))
}

func TestPaginate_InvalidSinceToken(t *testing.T) {
	ps := newPagedServer(t, [][]string{{`{"id": "a"}`}})

	_, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{Since: "not-a-token"}, RequestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "since")
	assert.Empty(t, ps.requests, "invalid since must fail before any exchange")
}

func TestPaginate_DeleteTraversal(t *testing.T) {
	ps := newPagedServer(t, [][]string{
		{`{"id": "a", "deleted": true}`},
		{`{"id": "b", "deleted": true}`},
	})

	headers := http.Header{}
	headers.Set("If-Match", `"1700000000000"`)

	page, err := newPager(ps.server.URL).Paginate(context.Background(), "/records", Options{Pages: PagesAll}, RequestOptions{
		Method:  http.MethodDelete,
		Headers: headers,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, recordIDs(t, page.Data))
	for _, r := range ps.requests {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, `"1700000000000"`, r.Header.Get("If-Match"))
	}
}
