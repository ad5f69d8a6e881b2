package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/pagination"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

// fakeStore emulates the history and records endpoints of one collection.
type fakeStore struct {
	collectionCreated bool
	history           []Entry  // record-level entries, oldest first
	liveIDs           []string // ids currently present in the collection
}

func (f *fakeStore) Execute(_ context.Context, req transport.Request, opts dispatch.Options) (*transport.Response, error) {
	var data []any

	switch {
	case strings.HasSuffix(req.Path, "/history") && opts.Query.Filters["resource_name"] == "collection":
		if f.collectionCreated {
			data = append(data, map[string]any{
				"action":        ActionCreate,
				"resource_name": "collection",
			})
		}
	case strings.HasSuffix(req.Path, "/history"):
		for _, entry := range f.history {
			data = append(data, entry)
		}
	case strings.HasSuffix(req.Path, "/records"):
		for _, id := range f.liveIDs {
			data = append(data, map[string]any{"id": id})
		}
	default:
		return nil, fmt.Errorf("unexpected path %q", req.Path)
	}

	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("ETag", `"1700000000000"`)
	return &transport.Response{Status: 200, Path: req.Path, Body: body, Headers: headers}, nil
}

func entry(action, id string, ts int64) Entry {
	return Entry{
		Action:       action,
		ResourceName: "record",
		CollectionID: "posts",
		RecordID:     id,
		LastModified: ts,
		Target: Target{Data: map[string]any{
			"id":            id,
			"last_modified": float64(ts),
		}},
	}
}

func reconstructor(store *fakeStore) *Reconstructor {
	return New(pagination.New(store))
}

func snapshotIDs(t *testing.T, page *pagination.Page) []string {
	t.Helper()
	ids := make([]string, len(page.Data))
	for i, raw := range page.Data {
		var rec struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &rec))
		ids[i] = rec.ID
	}
	return ids
}

func TestAt_NewestFirst(t *testing.T) {
	store := &fakeStore{
		collectionCreated: true,
		history: []Entry{
			entry(ActionCreate, "rec1", 1),
			entry(ActionCreate, "rec2", 2),
			entry(ActionCreate, "rec3", 3),
		},
		liveIDs: []string{"rec1", "rec2", "rec3"},
	}

	page, err := reconstructor(store).At(context.Background(), "blog", "posts", 3, pagination.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"rec3", "rec2", "rec1"}, snapshotIDs(t, page))
	assert.Equal(t, "3", page.LastModified)
	assert.Equal(t, 3, page.TotalRecords)
	assert.False(t, page.HasNextPage)
}

func TestAt_ExcludesLaterMutations(t *testing.T) {
	store := &fakeStore{
		collectionCreated: true,
		history: []Entry{
			entry(ActionCreate, "rec1", 1),
			entry(ActionCreate, "rec2", 2),
		},
		liveIDs: []string{"rec1", "rec2"},
	}

	page, err := reconstructor(store).At(context.Background(), "blog", "posts", 1, pagination.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"rec1"}, snapshotIDs(t, page))
}

func TestAt_DeleteRemovesRecord(t *testing.T) {
	store := &fakeStore{
		collectionCreated: true,
		history: []Entry{
			entry(ActionCreate, "rec1", 1),
			entry(ActionCreate, "rec2", 2),
			entry(ActionCreate, "rec3", 3),
			entry(ActionDelete, "rec1", 4),
		},
		liveIDs: []string{"rec2", "rec3"},
	}

	page, err := reconstructor(store).At(context.Background(), "blog", "posts", 4, pagination.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"rec3", "rec2"}, snapshotIDs(t, page))
}

func TestAt_TimeTravelUnaffectedByLaterMutations(t *testing.T) {
	// rec1 deleted at t4 and re-created at t5: the view at t3 still holds
	// the original rec1.
	store := &fakeStore{
		collectionCreated: true,
		history: []Entry{
			entry(ActionCreate, "rec1", 1),
			entry(ActionCreate, "rec2", 2),
			entry(ActionCreate, "rec3", 3),
			entry(ActionDelete, "rec1", 4),
			entry(ActionCreate, "rec1", 5),
		},
		liveIDs: []string{"rec1", "rec2", "rec3"},
	}

	page, err := reconstructor(store).At(context.Background(), "blog", "posts", 3, pagination.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"rec3", "rec2", "rec1"}, snapshotIDs(t, page))
}

func TestAt_PluralDeleteHeuristic(t *testing.T) {
	// rec2's deletion never reached the history log, but it is absent from
	// the live set: the correction pass must exclude it.
	store := &fakeStore{
		collectionCreated: true,
		history: []Entry{
			entry(ActionCreate, "rec1", 1),
			entry(ActionCreate, "rec2", 2),
		},
		liveIDs: []string{"rec1"},
	}

	page, err := reconstructor(store).At(context.Background(), "blog", "posts", 2, pagination.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"rec1"}, snapshotIDs(t, page))
}

func TestAt_Idempotent(t *testing.T) {
	store := &fakeStore{
		collectionCreated: true,
		history: []Entry{
			entry(ActionCreate, "rec1", 1),
			entry(ActionUpdate, "rec1", 2),
			entry(ActionCreate, "rec2", 3),
		},
		liveIDs: []string{"rec1", "rec2"},
	}
	r := reconstructor(store)

	first, err := r.At(context.Background(), "blog", "posts", 3, pagination.RequestOptions{})
	require.NoError(t, err)
	second, err := r.At(context.Background(), "blog", "posts", 3, pagination.RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, snapshotIDs(t, first), snapshotIDs(t, second))
	assert.Equal(t, first.LastModified, second.LastModified)
}

func TestAt_HistoryIncomplete(t *testing.T) {
	store := &fakeStore{
		collectionCreated: false,
		history:           []Entry{entry(ActionCreate, "rec1", 1)},
		liveIDs:           []string{"rec1"},
	}

	_, err := reconstructor(store).At(context.Background(), "blog", "posts", 1, pagination.RequestOptions{})
	require.ErrorIs(t, err, ErrHistoryIncomplete)
}

func TestAt_InvalidTimestamp(t *testing.T) {
	store := &fakeStore{collectionCreated: true}
	r := reconstructor(store)

	for _, at := range []int64{0, -7} {
		_, err := r.At(context.Background(), "blog", "posts", at, pagination.RequestOptions{})
		require.Error(t, err, "at=%d", at)
		assert.Contains(t, err.Error(), "positive")
	}
}

func TestAt_SnapshotPagesDoNotContinue(t *testing.T) {
	store := &fakeStore{
		collectionCreated: true,
		history:           []Entry{entry(ActionCreate, "rec1", 1)},
		liveIDs:           []string{"rec1"},
	}

	page, err := reconstructor(store).At(context.Background(), "blog", "posts", 1, pagination.RequestOptions{})
	require.NoError(t, err)

	_, err = page.Next(context.Background())
	require.ErrorIs(t, err, ErrNoPagination)
}

func TestTarget_LastModified(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want int64
	}{
		{"float64 from JSON", map[string]any{"last_modified": float64(42)}, 42},
		{"missing", map[string]any{}, 0},
		{"unexpected type", map[string]any{"last_modified": "42"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Target{Data: tt.data}).LastModified(); got != tt.want {
				t.Errorf("LastModified() = %d, want %d", got, tt.want)
			}
		})
	}
}
