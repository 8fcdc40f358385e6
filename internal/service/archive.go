package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/dandriscoll/devlogs/internal/storage"
	"github.com/klauspost/compress/gzip"
)

const (
	archiveContentType = "application/x-ndjson"
	archivePageSize    = 1000
	archiveKeyLayout   = "20060102T150405Z"
)

// ArchiverConfig holds configuration for the archiver.
type ArchiverConfig struct {
	Index  string
	Prefix string
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// ArchiveResult describes one uploaded archive object.
type ArchiveResult struct {
	Key       string `json:"key"`
	Documents int    `json:"documents"`
	Bytes     int64  `json:"bytes"`
}

// Archiver copies documents to object storage as gzip-compressed NDJSON
// before retention deletes them.
type Archiver struct {
	store   repository.Searcher
	objects storage.ObjectStorage
	index   string
	prefix  string
	now     func() time.Time
	logger  *logger.Logger
}

// NewArchiver creates a new archiver.
// Parameters:
//   - store: document store to read from.
//   - objects: destination bucket.
//   - log: logger instance.
//   - cfg: index and key prefix.
// Returns:
//   - *Archiver: initialized archiver.
func NewArchiver(store repository.Searcher, objects storage.ObjectStorage, log *logger.Logger, cfg *ArchiverConfig) *Archiver {
	a := &Archiver{store: store, objects: objects, now: time.Now, logger: log}
	if cfg != nil {
		a.index = cfg.Index
		a.prefix = strings.Trim(cfg.Prefix, "/")
		if cfg.Now != nil {
			a.now = cfg.Now
		}
	}
	if a.logger == nil {
		a.logger = logger.GetDefault()
	}
	return a
}

// Key returns the object key for tier at t.
func (a *Archiver) Key(tier string, t time.Time) string {
	name := t.UTC().Format(archiveKeyLayout) + ".ndjson.gz"
	return path.Join(a.prefix, a.index, tier, name)
}

// Archive uploads every document matching query under tier. Each line is
// {"_id": ..., "_source": ...}. Nothing is uploaded when no document
// matches.
func (a *Archiver) Archive(ctx context.Context, tier string, query map[string]any) (*ArchiveResult, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)

	count := 0
	var after []any
	for {
		resp, err := a.store.Search(ctx, a.index, &repository.SearchRequest{
			Query:       query,
			Sort:        sortByTime("asc"),
			Size:        archivePageSize,
			SearchAfter: after,
		})
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", tier, err)
		}
		for _, hit := range resp.Hits {
			line := struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
			}{hit.ID, hit.Source}
			if err := enc.Encode(line); err != nil {
				return nil, fmt.Errorf("archive %s: encode: %w", tier, err)
			}
			count++
		}
		if len(resp.Hits) < archivePageSize || len(resp.Hits[len(resp.Hits)-1].Sort) == 0 {
			break
		}
		after = resp.Hits[len(resp.Hits)-1].Sort
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive %s: compress: %w", tier, err)
	}
	if count == 0 {
		return &ArchiveResult{}, nil
	}

	key, err := a.freeKey(ctx, tier)
	if err != nil {
		return nil, err
	}
	size := int64(buf.Len())
	if err := a.objects.Upload(ctx, key, &buf, size, archiveContentType); err != nil {
		return nil, fmt.Errorf("archive %s: %w", tier, err)
	}

	logger.With(logger.Fields{
		logger.FieldTier: tier,
		logger.FieldSize: size,
		"key":            key,
	}).WithCount(count).Info(ctx, "archived documents")
	return &ArchiveResult{Key: key, Documents: count, Bytes: size}, nil
}

// freeKey avoids overwriting an archive written in the same second.
func (a *Archiver) freeKey(ctx context.Context, tier string) (string, error) {
	base := a.Key(tier, a.now())
	key := base
	for i := 1; ; i++ {
		exists, err := a.objects.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("archive %s: %w", tier, err)
		}
		if !exists {
			return key, nil
		}
		key = strings.TrimSuffix(base, ".ndjson.gz") + fmt.Sprintf("-%d.ndjson.gz", i)
	}
}
