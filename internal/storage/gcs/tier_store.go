// Package gcs provides a cache tier backend stored in Google Cloud Storage.
//
// Each tier lives under <prefix>/<tier>/ with one JSON snapshot object per
// cached URL, keyed by the SHA-256 of the URL. A marker object records that
// the tier exists even while it is empty.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/offline-catalog-worker/internal/hash/sha256"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

const (
	markerObject = "_tier"
	urlMetadata  = "url"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// TierStore implements offline.TierBackend on a bucket.
type TierStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed tier store.
func New(client *storage.Client, cfg Config) (*TierStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "offline"
	}
	return &TierStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *TierStore) tierPrefix(name string) string {
	return s.prefix + "/" + name + "/"
}

// Open writes the tier marker when missing and returns a handle.
func (s *TierStore) Open(ctx context.Context, name string) (offline.Tier, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid tier name %q", name)
	}
	obj := s.client.Bucket(s.bucket).Object(s.tierPrefix(name) + markerObject)
	writer := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/plain"
	if _, err := io.WriteString(writer, name); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("write tier marker: %w", err)
	}
	if err := writer.Close(); err != nil && !isPreconditionFailed(err) {
		return nil, fmt.Errorf("close tier marker: %w", err)
	}
	return &Tier{store: s, name: name}, nil
}

// Names lists tiers by their directory prefixes.
func (s *TierStore) Names(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + "/", Delimiter: "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list tiers: %w", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, s.prefix+"/"), "/"))
	}
	return names, nil
}

// Delete removes every object under the tier prefix, marker included.
func (s *TierStore) Delete(ctx context.Context, name string) error {
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: s.tierPrefix(name)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list tier %s: %w", name, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
	}
}

// Tier is a handle onto one tier prefix.
type Tier struct {
	store *TierStore
	name  string
}

// Name returns the tier name.
func (t *Tier) Name() string {
	return t.name
}

func (t *Tier) object(url string) *storage.ObjectHandle {
	return t.store.client.Bucket(t.store.bucket).Object(t.store.tierPrefix(t.name) + sha256.Sum([]byte(url)))
}

// Match downloads and decodes the snapshot for url.
func (t *Tier) Match(ctx context.Context, url string) (*offline.Response, error) {
	reader, err := t.object(url).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, offline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot for %s: %w", url, err)
	}
	defer reader.Close()
	var resp offline.Response
	if err := json.NewDecoder(reader).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", url, err)
	}
	return &resp, nil
}

// Put uploads a JSON snapshot of resp.
func (t *Tier) Put(ctx context.Context, url string, resp *offline.Response) error {
	if resp == nil {
		return fmt.Errorf("put %s: nil response", url)
	}
	snapshot := resp.Clone()
	snapshot.URL = url
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", url, err)
	}
	writer := t.object(url).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{urlMetadata: url}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Delete removes the snapshot for url.
func (t *Tier) Delete(ctx context.Context, url string) error {
	if err := t.object(url).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete snapshot for %s: %w", url, err)
	}
	return nil
}

// Keys lists the URLs recorded in snapshot metadata.
func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	it := t.store.client.Bucket(t.store.bucket).Objects(ctx, &storage.Query{Prefix: t.store.tierPrefix(t.name)})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list tier %s: %w", t.name, err)
		}
		if url := attrs.Metadata[urlMetadata]; url != "" {
			keys = append(keys, url)
		}
	}
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
