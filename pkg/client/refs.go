package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/pagination"
	"github.com/vesseldb/vessel-go/pkg/snapshot"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

// Bucket is a thin reference to one bucket. It carries no state beyond the
// name; every call goes to the server.
type Bucket struct {
	client *Client
	name   string
}

// Bucket returns a reference to the named bucket.
func (c *Client) Bucket(name string) Bucket {
	return Bucket{client: c, name: name}
}

// Name returns the bucket name.
func (b Bucket) Name() string { return b.name }

// Collection returns a reference to the named collection in this bucket.
func (b Bucket) Collection(name string) Collection {
	return Collection{client: b.client, bucket: b.name, name: name}
}

// ListHistory pages through the bucket's history log, newest first.
func (b Bucket) ListHistory(ctx context.Context, opts pagination.Options) (*pagination.Page, error) {
	path := fmt.Sprintf("/buckets/%s/history", b.name)
	return b.client.pager.Paginate(ctx, path, opts, b.client.requestOptions())
}

// Collection is a thin reference to one collection.
type Collection struct {
	client *Client
	bucket string
	name   string
}

// Name returns the collection name.
func (c Collection) Name() string { return c.name }

func (c Collection) recordsPath() string {
	return fmt.Sprintf("/buckets/%s/collections/%s/records", c.bucket, c.name)
}

// ListRecords pages through the collection's records.
func (c Collection) ListRecords(ctx context.Context, opts pagination.Options) (*pagination.Page, error) {
	return c.client.pager.Paginate(ctx, c.recordsPath(), opts, c.client.requestOptions())
}

// CreateRecord stores a new record. When data carries no "id", a random
// UUID is assigned and the record is PUT under it so the call stays
// idempotent on retry.
func (c Collection) CreateRecord(ctx context.Context, data map[string]any) (*transport.Response, error) {
	id, ok := data["id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
		withID := make(map[string]any, len(data)+1)
		for k, v := range data {
			withID[k] = v
		}
		withID["id"] = id
		data = withID
	}

	return c.client.Execute(ctx, transport.Request{
		Method: http.MethodPut,
		Path:   c.recordsPath() + "/" + id,
		Body:   map[string]any{"data": data},
	}, dispatch.QueryOptions{})
}

// GetRecord fetches one record by id.
func (c Collection) GetRecord(ctx context.Context, id string) (*transport.Response, error) {
	return c.client.Execute(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   c.recordsPath() + "/" + id,
	}, dispatch.QueryOptions{})
}

// DeleteRecords deletes the records matching opts, paging through the
// deletion results like a listing.
func (c Collection) DeleteRecords(ctx context.Context, opts pagination.Options) (*pagination.Page, error) {
	reqOpts := c.client.requestOptions()
	reqOpts.Method = http.MethodDelete
	return c.client.pager.Paginate(ctx, c.recordsPath(), opts, reqOpts)
}

// SnapshotAt reconstructs the collection as it existed at the given
// timestamp. Requires the server's history capability.
func (c Collection) SnapshotAt(ctx context.Context, at int64) (*pagination.Page, error) {
	if err := c.client.ensureCapability(ctx, "history"); err != nil {
		return nil, err
	}
	r := snapshot.New(c.client.pager)
	return r.At(ctx, c.bucket, c.name, at, c.client.requestOptions())
}

func (c *Client) requestOptions() pagination.RequestOptions {
	return pagination.RequestOptions{RetryBudget: c.retryBudget}
}
