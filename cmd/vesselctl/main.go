package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/vesseldb/vessel-go/pkg/client"
	"github.com/vesseldb/vessel-go/pkg/dispatch"
	"github.com/vesseldb/vessel-go/pkg/events"
	"github.com/vesseldb/vessel-go/pkg/logging"
	"github.com/vesseldb/vessel-go/pkg/pagination"
	"github.com/vesseldb/vessel-go/pkg/transport"
)

const VesselCtlVersion = "0.1.0"

const usage = `Vessel store control.

Usage:
    vesselctl server-info --remote=<url> [--auth=<auth>] [--verbose]
    vesselctl records list --remote=<url> --bucket=<bucket> --collection=<collection>
        [--auth=<auth>] [--limit=<limit>] [--sort=<sort>] [--verbose]
    vesselctl records import --remote=<url> --bucket=<bucket> --collection=<collection>
        --file=<file> [--auth=<auth>] [--verbose]
    vesselctl snapshot --remote=<url> --bucket=<bucket> --collection=<collection>
        --at=<timestamp> [--auth=<auth>] [--verbose]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --remote=<url>             Server base URL including the version segment.
    --auth=<auth>              Authorization header value.
    --bucket=<bucket>          Bucket name.
    --collection=<collection>  Collection name.
    --limit=<limit>            Page size for listings.
    --sort=<sort>              Sort expression, e.g. -last_modified.
    --file=<file>              JSON file with an array of records to import.
    --at=<timestamp>           Snapshot timestamp (epoch milliseconds).
    --verbose                  Enable debug logging.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], VesselCtlVersion)
	if err != nil {
		fail("parse arguments: %v", err)
	}

	level := logging.LevelWarn
	if verbose, _ := opts.Bool("--verbose"); verbose {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{Level: level, Pretty: true, Output: os.Stderr})

	c := newClient(opts)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch {
	case boolOpt(opts, "server-info"):
		serverInfo(ctx, c)
	case boolOpt(opts, "records") && boolOpt(opts, "list"):
		listRecords(ctx, c, opts)
	case boolOpt(opts, "records") && boolOpt(opts, "import"):
		importRecords(ctx, c, opts)
	case boolOpt(opts, "snapshot"):
		snapshotAt(ctx, c, opts)
	}
}

func newClient(opts docopt.Opts) *client.Client {
	remote, _ := opts.String("--remote")

	headers := http.Header{}
	if auth, err := opts.String("--auth"); err == nil && auth != "" {
		headers.Set("Authorization", auth)
	}

	c, err := client.New(client.Config{
		Remote:      remote,
		Headers:     headers,
		RetryBudget: 1,
		Events:      events.NewEmitter(),
	})
	if err != nil {
		fail("create client: %v", err)
	}

	c.Events().On(events.EventDeprecated, func(payload any) {
		if alert, ok := payload.(events.Alert); ok {
			fmt.Fprintf(os.Stderr, "warning: %s (%s)\n", alert.Message, alert.URL)
		}
	})

	return c
}

func serverInfo(ctx context.Context, c *client.Client) {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		fail("fetch server info: %v", err)
	}

	fmt.Printf("%s %s (HTTP API %s)\n", info.ProjectName, info.ProjectVersion, info.HTTPAPIVersion)
	fmt.Printf("batch_max_requests: %d\n", info.Settings.BatchMaxRequests)
	fmt.Printf("readonly: %t\n", info.Settings.Readonly)
	fmt.Println("capabilities:")
	for name, capability := range info.Capabilities {
		fmt.Printf("  %s: %s\n", name, capability.Description)
	}
}

func listRecords(ctx context.Context, c *client.Client, opts docopt.Opts) {
	collection := collectionRef(c, opts)

	pageOpts := pagination.Options{Pages: pagination.PagesAll}
	if limit, err := opts.String("--limit"); err == nil && limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			fail("invalid --limit %q", limit)
		}
		pageOpts.Limit = n
		pageOpts.Pages = 1
	}
	if sort, err := opts.String("--sort"); err == nil && sort != "" {
		pageOpts.Sort = sort
	}

	page, err := collection.ListRecords(ctx, pageOpts)
	if err != nil {
		fail("list records: %v", err)
	}

	for _, record := range page.Data {
		fmt.Println(string(record))
	}
	fmt.Fprintf(os.Stderr, "%d record(s), last_modified %s\n", len(page.Data), page.LastModified)
}

func importRecords(ctx context.Context, c *client.Client, opts docopt.Opts) {
	file, _ := opts.String("--file")
	raw, err := os.ReadFile(file)
	if err != nil {
		fail("read %s: %v", file, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		fail("parse %s: expected a JSON array of records: %v", file, err)
	}

	bucket, _ := opts.String("--bucket")
	collection, _ := opts.String("--collection")
	basePath := fmt.Sprintf("/buckets/%s/collections/%s/records", bucket, collection)

	result, err := c.Batch(ctx, func(s dispatch.Sink) error {
		for _, record := range records {
			req := transport.Request{
				Method: http.MethodPost,
				Path:   basePath,
				Body:   map[string]any{"data": record},
			}
			if id, ok := record["id"].(string); ok && id != "" {
				req.Method = http.MethodPut
				req.Path = basePath + "/" + id
			}
			if _, err := s.Execute(ctx, req, dispatch.Options{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		fail("import records: %v", err)
	}

	agg, err := result.Aggregate()
	if err != nil {
		fail("aggregate results: %v", err)
	}

	fmt.Printf("published: %d\n", len(agg.Published))
	fmt.Printf("skipped:   %d\n", len(agg.Skipped))
	fmt.Printf("conflicts: %d\n", len(agg.Conflicts))
	fmt.Printf("errors:    %d\n", len(agg.Errors))
	for _, opErr := range agg.Errors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", opErr.Path, string(opErr.Error))
	}
	if len(agg.Errors) > 0 || len(agg.Conflicts) > 0 {
		os.Exit(1)
	}
}

func snapshotAt(ctx context.Context, c *client.Client, opts docopt.Opts) {
	atStr, _ := opts.String("--at")
	at, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		fail("invalid --at %q: expected epoch milliseconds", atStr)
	}

	page, err := collectionRef(c, opts).SnapshotAt(ctx, at)
	if err != nil {
		fail("reconstruct snapshot: %v", err)
	}

	for _, record := range page.Data {
		fmt.Println(string(record))
	}
	fmt.Fprintf(os.Stderr, "%d record(s) at %s\n", page.TotalRecords, page.LastModified)
}

func collectionRef(c *client.Client, opts docopt.Opts) client.Collection {
	bucket, _ := opts.String("--bucket")
	collection, _ := opts.String("--collection")
	return c.Bucket(bucket).Collection(collection)
}

func boolOpt(opts docopt.Opts, name string) bool {
	value, _ := opts.Bool(name)
	return value
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
