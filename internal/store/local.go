package store

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrBadSignature is returned by Verify for tampered or expired links.
var ErrBadSignature = errors.New("store: invalid or expired signature")

// Local stores blobs on the filesystem, one directory per bucket, and
// issues HMAC-signed links served by the blob route.
type Local struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

func NewLocal(root, baseURL, secret string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local storage root is empty")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("local storage signing secret is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{
		root:    root,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

func (l *Local) path(bucket, key string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	key = NormalizeObjectKey(key)
	if bucket == "" || key == "" || strings.Contains(bucket, "/") || bucket == ".." {
		return "", fmt.Errorf("invalid object %q/%q", bucket, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}
	return filepath.Join(l.root, bucket, filepath.FromSlash(key)), nil
}

func (l *Local) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (l *Local) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrBlobNotFound)
	}
	return data, err
}

func (l *Local) Remove(ctx context.Context, bucket string, keys []string) error {
	var errs []error
	for _, key := range UniqueKeys(keys) {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := l.path(bucket, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Local) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrBlobNotFound)
		}
		return "", err
	}
	key = NormalizeObjectKey(key)
	expires := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", l.sign(bucket, key, expires))
	return l.baseURL + "/" + url.PathEscape(bucket) + "/" + encodeObjectKey(key) + "?" + q.Encode(), nil
}

// Verify checks a link produced by SignedURL and returns the file path.
func (l *Local) Verify(bucket, key, expires, signature string) (string, error) {
	key = NormalizeObjectKey(key)
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || l.now().Unix() > exp {
		return "", ErrBadSignature
	}
	if !hmac.Equal([]byte(signature), []byte(l.sign(bucket, key, exp))) {
		return "", ErrBadSignature
	}
	return l.path(bucket, key)
}

func (l *Local) sign(bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, l.secret)
	_, _ = mac.Write([]byte(bucket + "\n" + key + "\n" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func encodeObjectKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
