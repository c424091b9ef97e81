package s3mail

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/nwalden/mailscan/internal/logctx"
	"github.com/nwalden/mailscan/pkg/source"
)

// Archive serves stable offset/limit windows over the messages in an S3
// bucket prefix. It implements source.Source.
type Archive struct {
	api s3API
	cfg Config

	// listings caches the sorted key list per query. The listing is built
	// once and reused for every page of the same scan, keeping offsets
	// stable against concurrent writers to the bucket.
	mu       sync.Mutex
	listings map[string][]string
}

var _ source.Source = (*Archive)(nil)

// NewArchive creates an archive over the given S3 client and config.
func NewArchive(api s3API, cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = 8
	}
	if cfg.HeaderRangeBytes == 0 {
		cfg.HeaderRangeBytes = 64 * 1024
	}
	return &Archive{
		api:      api,
		cfg:      cfg,
		listings: make(map[string][]string),
	}, nil
}

// keysFor returns the cached sorted key listing for a query, listing the
// bucket on first use. The query refines the configured prefix.
func (a *Archive) keysFor(ctx context.Context, query string) ([]string, error) {
	a.mu.Lock()
	if keys, ok := a.listings[query]; ok {
		a.mu.Unlock()
		return keys, nil
	}
	a.mu.Unlock()

	prefix := a.cfg.Prefix + query
	var keys []string
	var token *string
	for {
		out, err := a.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", a.cfg.Bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	// S3 returns keys in lexicographic order already; sort anyway so the
	// offset contract does not depend on it.
	sort.Strings(keys)

	logger := logctx.FromContext(ctx)
	logger.Debug().
		Str("bucket", a.cfg.Bucket).
		Str("prefix", prefix).
		Int("keys", len(keys)).
		Msg("cached archive listing")

	a.mu.Lock()
	a.listings[query] = keys
	a.mu.Unlock()
	return keys, nil
}

// Search returns up to limit messages starting at offset. Messages whose
// headers cannot be fetched or parsed are returned with empty header fields
// and skipped downstream by the normalizer; a fetch transport error fails
// the whole page.
func (a *Archive) Search(ctx context.Context, query string, offset, limit int) ([]source.RawMessage, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}

	keys, err := a.keysFor(ctx, query)
	if err != nil {
		return nil, err
	}
	if offset >= len(keys) {
		return nil, nil
	}
	end := offset + limit
	if end > len(keys) {
		end = len(keys)
	}
	page := keys[offset:end]

	msgs := make([]source.RawMessage, len(page))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.FetchConcurrency)
	for i, key := range page {
		g.Go(func() error {
			msg, err := a.fetchHeaders(gctx, key)
			if err != nil {
				return fmt.Errorf("fetch s3://%s/%s: %w", a.cfg.Bucket, key, err)
			}
			msgs[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchPages fetches the pages starting at each offset, in offset order.
func (a *Archive) FetchPages(ctx context.Context, query string, offsets []int, limit int) ([][]source.RawMessage, error) {
	pages := make([][]source.RawMessage, len(offsets))
	g, gctx := errgroup.WithContext(ctx)
	// Each Search already fans out; keep page-level parallelism modest.
	g.SetLimit(2)
	for i, off := range offsets {
		g.Go(func() error {
			page, err := a.Search(gctx, query, off, limit)
			if err != nil {
				return err
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// fetchHeaders range-requests the leading bytes of one object and parses
// the message headers out of them.
func (a *Archive) fetchHeaders(ctx context.Context, key string) (source.RawMessage, error) {
	rng := fmt.Sprintf("bytes=0-%d", a.cfg.HeaderRangeBytes-1)
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return source.RawMessage{}, err
	}
	defer out.Body.Close()

	msg := parseHeaders(key, out.Body)
	return msg, nil
}
