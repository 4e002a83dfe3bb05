package backup

import (
	"context"
	"encoding/json"

	"gocloud.dev/blob"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Backup writes indented JSON snapshots of the shared status to a bucket,
// supporting local files, S3, GCS, Azure Blob Storage, and memory
type Backup struct {
	bucket   *blob.Bucket
	fileName string
}

// Open opens the bucket named by the backup configuration
func Open(ctx context.Context, cfg config.BackupConfig) (*Backup, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	return New(bucket, cfg.FileName), nil
}

// New wraps an already opened bucket
func New(bucket *blob.Bucket, fileName string) *Backup {
	return &Backup{bucket: bucket, fileName: fileName}
}

// Save replaces the snapshot with the given status record
func (b *Backup) Save(ctx context.Context, st *api.SystemState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return b.bucket.WriteAll(ctx, b.fileName, data, &blob.WriterOptions{
		ContentType: "application/json",
	})
}

func (b *Backup) Close() error {
	return b.bucket.Close()
}
