package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"algohub/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const artifactContentType = "application/zstd"

// ArtifactArchive keeps a compressed copy of built executables in object storage.
type ArtifactArchive interface {
	Key(userID string, submissionID int64, name string) string
	Archive(ctx context.Context, userID string, submissionID int64, name, executablePath string) (string, error)
	Restore(ctx context.Context, key, executablePath string) error
	Remove(ctx context.Context, userID string, submissionID int64) error
}

// ObjectArtifactArchive stores zstd-compressed artifacts under <prefix>/<user>/<submission>/<name>.zst.
type ObjectArtifactArchive struct {
	store  storage.ObjectStorage
	bucket string
	prefix string
}

func NewObjectArtifactArchive(store storage.ObjectStorage, bucket, prefix string) *ObjectArtifactArchive {
	if prefix == "" {
		prefix = "artifacts"
	}
	return &ObjectArtifactArchive{store: store, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a submission's artifact.
func (a *ObjectArtifactArchive) Key(userID string, submissionID int64, name string) string {
	return path.Join(a.submissionPrefix(userID, submissionID), name+".zst")
}

func (a *ObjectArtifactArchive) Archive(ctx context.Context, userID string, submissionID int64, name, executablePath string) (string, error) {
	f, err := os.Open(executablePath)
	if err != nil {
		return "", fmt.Errorf("open artifact failed: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	go func() {
		enc, err := zstd.NewWriter(pw)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(enc, f); err != nil {
			_ = enc.Close()
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(enc.Close())
	}()

	key := a.Key(userID, submissionID, name)
	if err := a.store.PutObject(ctx, a.bucket, key, pr, -1, artifactContentType); err != nil {
		_ = pr.CloseWithError(err)
		return "", err
	}
	return key, nil
}

// Restore writes the decompressed artifact to executablePath with exec permission.
func (a *ObjectArtifactArchive) Restore(ctx context.Context, key, executablePath string) error {
	obj, err := a.store.GetObject(ctx, a.bucket, key)
	if err != nil {
		return err
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return fmt.Errorf("open zstd stream failed: %w", err)
	}
	defer dec.Close()

	tmp := executablePath + ".restore"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("create artifact failed: %w", err)
	}
	if _, err := io.Copy(out, dec); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("decompress artifact failed: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, executablePath)
}

func (a *ObjectArtifactArchive) Remove(ctx context.Context, userID string, submissionID int64) error {
	objects, err := a.store.ListObjects(ctx, a.bucket, a.submissionPrefix(userID, submissionID)+"/")
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	return a.store.RemoveObjects(ctx, a.bucket, keys)
}

func (a *ObjectArtifactArchive) submissionPrefix(userID string, submissionID int64) string {
	return path.Join(a.prefix, userID, strconv.FormatInt(submissionID, 10))
}

var _ ArtifactArchive = (*ObjectArtifactArchive)(nil)
