package blob

import (
	"context"
	"fmt"

	"tripstore/internal/infra/blob/fs"
	"tripstore/internal/infra/blob/memory"
	"tripstore/internal/infra/blob/s3"
)

// Options selects and configures a blob backend.
//
//	Driver: fs|s3|memory (default fs)
//	FSRoot: directory root when Driver=fs (default ./blobdata)
//	S3: bucket, region and endpoint when Driver=s3
//	Logger: optional, receives fs housekeeping warnings
type Options struct {
	Driver Driver
	FSRoot string
	S3     s3.Config
	Logger fs.Logger
}

// Open returns the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(opts.FSRoot, fs.WithLogger(opts.Logger))
	case DriverS3:
		return s3.New(ctx, opts.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
