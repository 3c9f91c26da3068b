package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// RecordingReference is an opaque pointer at a stored audio object. It is
// issued by the upload path and never mutated.
type RecordingReference string

func (r RecordingReference) String() string { return string(r) }

// ReferenceKind tells the retrieval layer where a reference lives.
type ReferenceKind string

const (
	ReferenceKey ReferenceKind = "key"
	ReferenceURL ReferenceKind = "url"
	ReferenceS3  ReferenceKind = "s3"
)

// ParsedReference is a classified RecordingReference.
type ParsedReference struct {
	Raw    RecordingReference
	Kind   ReferenceKind
	Bucket string // s3 only
	Key    string // s3 object key, or the store key
	URL    string // fetchable URL for url and s3 kinds
}

// ParseReference classifies ref as a store key, a plain URL or an S3 object.
// S3 objects are recognized in s3://bucket/key form and in both the
// virtual-hosted and the path-style amazonaws.com URL forms. Query strings are
// ignored for bucket/key extraction but kept on URL so presigned links still
// work.
func ParseReference(ref RecordingReference) (ParsedReference, error) {
	raw := strings.TrimSpace(string(ref))
	if raw == "" {
		return ParsedReference{}, fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}

	if strings.HasPrefix(raw, "s3://") {
		rest := strings.SplitN(raw, "?", 2)[0][len("s3://"):]
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ParsedReference{}, fmt.Errorf("%w: invalid s3:// reference %q", ErrInvalidReference, raw)
		}
		return ParsedReference{
			Raw:    ref,
			Kind:   ReferenceS3,
			Bucket: parts[0],
			Key:    parts[1],
			URL:    fmt.Sprintf("https://%s.s3.amazonaws.com/%s", parts[0], parts[1]),
		}, nil
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if strings.Contains(raw, "://") {
			return ParsedReference{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidReference, raw)
		}
		return ParsedReference{Raw: ref, Kind: ReferenceKey, Key: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ParsedReference{}, fmt.Errorf("%w: malformed url %q", ErrInvalidReference, raw)
	}

	bucket, key, ok, err := splitS3URL(u)
	if err != nil {
		return ParsedReference{}, err
	}
	if ok {
		return ParsedReference{Raw: ref, Kind: ReferenceS3, Bucket: bucket, Key: key, URL: raw}, nil
	}
	return ParsedReference{Raw: ref, Kind: ReferenceURL, URL: raw}, nil
}

func splitS3URL(u *url.URL) (bucket, key string, ok bool, err error) {
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return "", "", false, nil
	}
	path := strings.TrimPrefix(u.Path, "/")

	// path-style: s3.amazonaws.com/bucket/key or s3.<region>.amazonaws.com/bucket/key
	if host == "s3.amazonaws.com" || strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
		segs := strings.SplitN(path, "/", 2)
		if len(segs) != 2 || segs[0] == "" || segs[1] == "" {
			return "", "", false, fmt.Errorf("%w: path-style s3 url missing bucket or key", ErrInvalidReference)
		}
		return segs[0], segs[1], true, nil
	}

	// virtual-hosted: bucket.s3.amazonaws.com/key or bucket.s3.<region>.amazonaws.com/key
	if i := strings.Index(host, ".s3"); i > 0 {
		if path == "" {
			return "", "", false, fmt.Errorf("%w: virtual-hosted s3 url missing key", ErrInvalidReference)
		}
		return host[:i], path, true, nil
	}
	return "", "", false, nil
}
