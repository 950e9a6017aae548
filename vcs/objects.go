package vcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/changegate/changegate/domain"
)

const (
	blobBatchSize  = 10
	blobBatchDelay = 500 * time.Millisecond

	refReadRetries = 3
	refReadDelay   = 2 * time.Second

	writeRetries = 3
	writeDelay   = 2 * time.Second
)

// ObjectWriter turns directory snapshots into the backend's
// content-addressed object graph and publishes them under refs.
//
// Every object write is independent and invisible until a ref points at
// it, so a failure mid-write leaves the remote in its prior state; only
// the final ref update is destructive.
type ObjectWriter struct {
	backend Backend

	batchSize  int
	batchDelay time.Duration
	refRetries int
	refDelay   time.Duration

	sleep func(time.Duration)
}

func NewObjectWriter(backend Backend) *ObjectWriter {
	return &ObjectWriter{
		backend:    backend,
		batchSize:  blobBatchSize,
		batchDelay: blobBatchDelay,
		refRetries: refReadRetries,
		refDelay:   refReadDelay,
		sleep:      time.Sleep,
	}
}

// WriteTree writes the snapshot as a single tree. Text files are
// embedded inline in the tree call; binary files are base64-encoded and
// written as separate blobs first, because the backend's tree call does
// not accept inline binary payloads. Blob writes go out in fixed-size
// batches with a short pause between them to stay under the remote's
// connection limits. Any batch failure aborts the whole write.
func (w *ObjectWriter) WriteTree(ctx context.Context, files []domain.SnapshotFile, baseTree string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%w: snapshot has no files", domain.ErrValidation)
	}

	entries := make([]TreeEntry, len(files))
	var binaryIdx []int
	for i, f := range files {
		if f.IsBinary {
			binaryIdx = append(binaryIdx, i)
			continue
		}
		entries[i] = TreeEntry{Path: f.Path, Content: string(f.Content)}
	}

	for start := 0; start < len(binaryIdx); start += w.batchSize {
		end := start + w.batchSize
		if end > len(binaryIdx) {
			end = len(binaryIdx)
		}

		for _, i := range binaryIdx[start:end] {
			encoded := base64.StdEncoding.EncodeToString(files[i].Content)
			sha, err := w.writeBlob(ctx, encoded)
			if err != nil {
				return "", fmt.Errorf("write blob for %s: %w", files[i].Path, err)
			}
			entries[i] = TreeEntry{Path: files[i].Path, SHA: sha}
		}

		if end < len(binaryIdx) {
			w.sleep(w.batchDelay)
		}
	}

	var tree string
	err := w.withRetry(ctx, "create tree", func() error {
		var err error
		tree, err = w.backend.CreateTree(ctx, baseTree, entries)
		return err
	})
	if err != nil {
		return "", err
	}
	return tree, nil
}

// Commit creates a commit pointing at the tree. An empty parent makes an
// orphan root commit, needed the first time a repository has no history.
func (w *ObjectWriter) Commit(ctx context.Context, treeSHA, parent, message string) (string, error) {
	var parents []string
	if parent != "" {
		parents = []string{parent}
	}

	var sha string
	err := w.withRetry(ctx, "create commit", func() error {
		var err error
		sha, err = w.backend.CreateCommit(ctx, message, treeSHA, parents)
		return err
	})
	if err != nil {
		return "", err
	}
	return sha, nil
}

// AdvanceRef points the branch at the commit. Ref creation and update
// are distinct remote operations, so the ref is read first to learn
// which one applies.
func (w *ObjectWriter) AdvanceRef(ctx context.Context, branch, sha string, allowCreate bool) error {
	_, err := w.backend.GetRef(ctx, branch)
	switch {
	case errors.Is(err, domain.ErrRefNotFound):
		if !allowCreate {
			return fmt.Errorf("advance ref %s: %w", branch, domain.ErrRefNotFound)
		}
		return w.backend.CreateRef(ctx, branch, sha)
	case err != nil:
		return fmt.Errorf("advance ref %s: %w", branch, err)
	default:
		return w.backend.UpdateRef(ctx, branch, sha)
	}
}

// ReadRef resolves the branch to a commit SHA. Freshly created refs may
// not be readable immediately, so a not-found answer is retried a fixed
// number of times with a fixed delay before it is surfaced.
func (w *ObjectWriter) ReadRef(ctx context.Context, branch string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.refRetries; attempt++ {
		sha, err := w.backend.GetRef(ctx, branch)
		if err == nil {
			return sha, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrRefNotFound) {
			return "", err
		}
		if attempt < w.refRetries {
			slog.Debug("ref not visible yet, retrying",
				"branch", branch,
				"attempt", attempt)
			w.sleep(w.refDelay)
		}
	}
	return "", lastErr
}

// withRetry retries f on RemoteUnavailable a bounded number of times.
// Other failures surface immediately.
func (w *ObjectWriter) withRetry(ctx context.Context, op string, f func() error) error {
	var err error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		if err = f(); err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrRemoteUnavailable) {
			return err
		}
		if attempt < writeRetries {
			slog.Warn("backend unavailable, retrying",
				"op", op,
				"attempt", attempt,
				"error", err)
			w.sleep(writeDelay)
		}
	}
	return err
}

func (w *ObjectWriter) writeBlob(ctx context.Context, encoded string) (string, error) {
	var sha string
	err := w.withRetry(ctx, "create blob", func() error {
		var err error
		sha, err = w.backend.CreateBlob(ctx, encoded)
		return err
	})
	return sha, err
}
