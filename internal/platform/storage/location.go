package storage

import (
	"fmt"
	"strings"
)

// Scheme is the URL scheme recognised for Cloud Storage objects.
const Scheme = "gs://"

// Location addresses a single Cloud Storage object.
type Location struct {
	Bucket string
	Object string
}

func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Object
}

// IsObjectURL reports whether raw looks like a gs:// object URL.
func IsObjectURL(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), Scheme)
}

// ParseLocation splits a gs://bucket/path/to/object URL.
func ParseLocation(raw string) (Location, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, Scheme) {
		return Location{}, fmt.Errorf("storage: %q is not a %s URL", raw, Scheme)
	}
	rest := strings.TrimPrefix(trimmed, Scheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok {
		return Location{}, fmt.Errorf("storage: object name is required in %q", raw)
	}
	bucket, err := validateSegment("bucket", bucket)
	if err != nil {
		return Location{}, err
	}
	object = strings.Trim(strings.TrimSpace(object), "/")
	if object == "" {
		return Location{}, fmt.Errorf("storage: object name is required in %q", raw)
	}
	if strings.Contains(object, "..") {
		return Location{}, fmt.Errorf("storage: object contains invalid traversal sequence")
	}
	return Location{Bucket: bucket, Object: object}, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
