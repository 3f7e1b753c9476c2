// Package s3 provides an S3-compatible fsops.Backend, following the
// teacher's storage/s3 package (phase1/internal/storage/s3/s3.go) adapted
// from a metadata-table-backed store to the canopy Backend interface. Keys
// are the object's virtual path with the leading "/" trimmed; there is no
// real directory concept on an object store, so directory operations are
// modeled with zero-byte marker objects ending in "/".
package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/canopyfs/canopy/internal/canopyerr"
	"github.com/canopyfs/canopy/internal/fsops"
	"github.com/canopyfs/canopy/internal/logging"
)

// Config holds S3/MinIO connection settings, following the teacher's
// storage/s3.Config.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Backend implements fsops.Backend against an S3-compatible object store.
type Backend struct {
	client *s3.Client
	bucket string
}

// New builds a Backend and verifies (creating if necessary) that the
// configured bucket exists, matching the teacher's ensureBucket step.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true // required for MinIO
	})

	b := &Backend{client: client, bucket: cfg.Bucket}
	if err := b.ensureBucket(ctx); err != nil {
		logging.Warn("s3 bucket check failed", logging.String("bucket", cfg.Bucket), logging.Err(err))
	}
	return b, nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)})
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	logging.Info("created s3 bucket", logging.String("bucket", b.bucket))
	return nil
}

func key(real string) string {
	return strings.TrimPrefix(real, "/")
}

func dirMarker(real string) string {
	k := key(real)
	if !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func (b *Backend) Stat(real string) (fsops.Info, error) {
	ctx := context.Background()
	k := key(real)
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(k)})
	if err == nil {
		return fsops.Info{Name: baseName(k), Size: aws.ToInt64(head.ContentLength), ModTime: aws.ToTime(head.LastModified)}, nil
	}
	// Fall back to checking for a directory marker.
	if _, dirErr := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(dirMarker(real))}); dirErr == nil {
		return fsops.Info{Name: baseName(k), IsDir: true}, nil
	}
	return fsops.Info{}, canopyerr.New(canopyerr.NotFound, "stat", real, err)
}

func (b *Backend) Mkdir(real string, recursive bool) error {
	ctx := context.Background()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirMarker(real)),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return canopyerr.New(canopyerr.IOError, "mkdir", real, err)
	}
	return nil
}

func (b *Backend) Rm(real string) error {
	ctx := context.Background()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key(real))})
	if err != nil {
		return canopyerr.New(canopyerr.IOError, "rm", real, err)
	}
	return nil
}

func (b *Backend) Rmdir(real string, recursive bool) error {
	ctx := context.Background()
	infos, err := b.List(real)
	if err != nil {
		return err
	}
	if len(infos) > 0 && !recursive {
		return canopyerr.New(canopyerr.NotEmpty, "rmdir", real, nil)
	}
	for _, info := range infos {
		child := real + "/" + info.Name
		if info.IsDir {
			if err := b.Rmdir(child, true); err != nil {
				return err
			}
			continue
		}
		if err := b.Rm(child); err != nil {
			return err
		}
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(dirMarker(real))})
	if err != nil {
		return canopyerr.New(canopyerr.IOError, "rmdir", real, err)
	}
	return nil
}

// Rename on an object store has no atomic primitive; it degrades to
// copy+delete, the same CrossDevice-style fallback the local backend uses
// for cross-filesystem renames (spec §4.2).
func (b *Backend) Rename(src, dst string) error {
	info, err := b.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir {
		if err := b.CopyDir(src, dst); err != nil {
			return err
		}
		return b.Rmdir(src, true)
	}
	if err := b.CopyFile(src, dst); err != nil {
		return err
	}
	return b.Rm(src)
}

func (b *Backend) CopyFile(src, dst string) error {
	ctx := context.Background()
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(key(dst)),
		CopySource: aws.String(b.bucket + "/" + key(src)),
	})
	if err != nil {
		return canopyerr.New(canopyerr.IOError, "copyFile", src, err)
	}
	return nil
}

func (b *Backend) CopyDir(src, dst string) error {
	infos, err := b.List(src)
	if err != nil {
		return err
	}
	if err := b.Mkdir(dst, true); err != nil {
		return err
	}
	for _, info := range infos {
		srcChild := src + "/" + info.Name
		dstChild := dst + "/" + info.Name
		if info.IsDir {
			if err := b.CopyDir(srcChild, dstChild); err != nil {
				return err
			}
			continue
		}
		if err := b.CopyFile(srcChild, dstChild); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) OpenWrite(real string) (io.WriteCloser, error) {
	return &uploadWriter{backend: b, key: key(real)}, nil
}

func (b *Backend) List(real string) ([]fsops.Info, error) {
	ctx := context.Background()
	prefix := dirMarker(real)
	if real == "" || real == "/" {
		prefix = ""
	}

	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, canopyerr.New(canopyerr.IOError, "list", real, err)
	}

	var infos []fsops.Info
	for _, p := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
		if name == "" {
			continue
		}
		infos = append(infos, fsops.Info{Name: name, IsDir: true})
	}
	for _, obj := range out.Contents {
		k := aws.ToString(obj.Key)
		if strings.HasSuffix(k, "/") {
			continue // directory marker
		}
		name := strings.TrimPrefix(k, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		infos = append(infos, fsops.Info{Name: name, Size: aws.ToInt64(obj.Size), ModTime: aws.ToTime(obj.LastModified)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func baseName(k string) string {
	k = strings.TrimSuffix(k, "/")
	if idx := strings.LastIndexByte(k, '/'); idx >= 0 {
		return k[idx+1:]
	}
	return k
}

// uploadWriter buffers a PutObject body; S3 has no append/seek write mode.
type uploadWriter struct {
	backend *Backend
	key     string
	buf     []byte
}

func (u *uploadWriter) Write(p []byte) (int, error) {
	u.buf = append(u.buf, p...)
	return len(p), nil
}

func (u *uploadWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	_, err := u.backend.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.backend.bucket),
		Key:           aws.String(u.key),
		Body:          strings.NewReader(string(u.buf)),
		ContentLength: aws.Int64(int64(len(u.buf))),
	})
	if err != nil {
		return canopyerr.New(canopyerr.IOError, "openWrite", u.key, err)
	}
	return nil
}
