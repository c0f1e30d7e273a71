// Package archive keeps JSON documents, such as cycle reports, in Cloud
// Storage or a local directory.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/retrypolicy"
)

// ErrNotFound is returned by Load when no document exists under the key.
var ErrNotFound = errors.New("archive: object doesn't exist")

// Archive stores documents by slash-separated key.
type Archive struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	policy    retrypolicy.Policy
}

// New creates an archive. When localPath is set the bucket is ignored.
func New(client *storage.Client, bucket, localPath string, policy retrypolicy.Policy, logger *slog.Logger) *Archive {
	return &Archive{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		policy:    policy,
	}
}

// ReportKey returns the key for one cycle's report, grouped by UTC day.
func ReportKey(at time.Time, runID string) string {
	return fmt.Sprintf("cycles/%s/%s.json", at.UTC().Format("2006-01-02"), runID)
}

// validKey rejects keys that could escape the archive root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// Save writes v as indented JSON under key.
func (a *Archive) Save(ctx context.Context, key string, v any) error {
	if !validKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if a.localPath != "" {
		filePath := filepath.Join(a.localPath, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
			return fmt.Errorf("create local directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		a.logger.Info("Document saved to local storage", "path", filePath, "bytes", len(data))
		return nil
	}

	err = a.policy.Do(ctx, a.logger, "archive_save", func(ctx context.Context) error {
		w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, writeErr := w.Write(data); writeErr != nil {
			if closeErr := w.Close(); closeErr != nil {
				a.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write to storage: %w", writeErr)
		}
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("close storage writer: %w", closeErr)
		}
		return nil
	}, nil)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	a.logger.Info("Document saved", "bucket", a.bucket, "key", key, "bytes", len(data))
	return nil
}

// Load reads the document under key into v.
func (a *Archive) Load(ctx context.Context, key string, v any) error {
	if !validKey(key) {
		return ErrNotFound
	}

	var data []byte
	if a.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(a.localPath, filepath.FromSlash(key)))
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		err := a.policy.Do(ctx, a.logger, "archive_load", func(ctx context.Context) error {
			r, openErr := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return ErrNotFound
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					a.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()
			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		}, func(err error) bool { return !errors.Is(err, ErrNotFound) })
		if err != nil {
			return err
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// List returns the keys under prefix, newest-named last.
func (a *Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if a.localPath != "" {
		err := filepath.WalkDir(a.localPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
				return nil
			}
			rel, err := filepath.Rel(a.localPath, p)
			if err != nil {
				return err
			}
			if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		sort.Strings(keys)
		return keys, nil
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if path.Ext(attrs.Name) == ".json" {
			keys = append(keys, attrs.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
