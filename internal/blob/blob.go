// Package blob stores attachment images in S3-compatible object storage
// and derives the metadata the widget needs to render placeholders: the
// content type and a thumbhash.
package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime/multipart"
	"path"
	"strings"

	"github.com/galdor/go-thumbhash"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// Validation codes, reported per attachment field.
const (
	CodeTooBig      = "TOO_BIG"
	CodeUnsupported = "UNSUPPORTED"
	CodeTooMany     = "TOO_MANY"
)

// Limits bounds what an upload batch may contain.
type Limits struct {
	MaxCount     int
	MaxSizeBytes int64
	Types        []string
}

// Data is the attachment metadata persisted alongside the object key.
type Data struct {
	Type string `json:"type"`
	Hash string `json:"hash,omitempty"`
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
}

// Service uploads, serves, and removes attachment objects.
type Service struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	limits        Limits
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config, limits Limits) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connect %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("blob: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		limits:        limits,
	}, nil
}

// Validate checks an upload batch against the limits. The result maps
// request fields to codes; an empty map means the batch is acceptable.
func Validate(files []*multipart.FileHeader, limits Limits) map[string]string {
	errs := map[string]string{}
	if limits.MaxCount > 0 && len(files) > limits.MaxCount {
		errs["attachments"] = CodeTooMany
		return errs
	}
	for i, fh := range files {
		field := fmt.Sprintf("attachments[%d]", i)
		if limits.MaxSizeBytes > 0 && fh.Size > limits.MaxSizeBytes {
			errs[field] = CodeTooBig
			continue
		}
		if !typeAllowed(fh.Header.Get("Content-Type"), limits.Types) {
			errs[field] = CodeUnsupported
		}
	}
	return errs
}

func typeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.EqualFold(contentType, t) {
			return true
		}
	}
	return false
}

// Store uploads one attachment and returns its object key plus metadata.
// A file that fails image decoding still uploads; it just gets no hash.
func (s *Service) Store(ctx context.Context, fh *multipart.FileHeader) (string, Data, error) {
	file, err := fh.Open()
	if err != nil {
		return "", Data{}, fmt.Errorf("blob: open upload: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(file); err != nil {
		return "", Data{}, fmt.Errorf("blob: read upload: %w", err)
	}

	contentType := fh.Header.Get("Content-Type")
	data := Data{Type: contentType}
	if hash, err := HashImage(bytes.NewReader(buf.Bytes())); err == nil {
		data.Hash = hash
	} else {
		log.Debug().Err(err).Str("file", fh.Filename).Msg("blob: thumbhash skipped")
	}

	key := objectKey(fh.Filename)
	_, err = s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", Data{}, fmt.Errorf("blob: put %s: %w", key, err)
	}
	return key, data, nil
}

// URL renders the public URL for an object key.
func (s *Service) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return "/" + path.Join(s.bucket, key)
}

// Remove deletes objects, best effort. Orphaned blobs are preferable to a
// failed pin deletion.
func (s *Service) Remove(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("blob: remove failed")
		}
	}
}

// HashImage computes the base64 thumbhash of an image stream.
func HashImage(r *bytes.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(thumbhash.EncodeImage(img)), nil
}

func objectKey(filename string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	ext := strings.ToLower(path.Ext(filename))
	return hex.EncodeToString(buf) + ext
}
