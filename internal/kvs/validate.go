package kvs

import (
	"errors"
	"fmt"
)

// CloudFront KeyValueStore limits.
// See: https://docs.aws.amazon.com/AmazonCloudFront/latest/DeveloperGuide/cloudfront-limits.html
const (
	MaxKeyBytes   = 512
	MaxEntryBytes = 1024    // key + value
	MaxTotalBytes = 5242880 // 5 MB
)

// LimitError reports an entry (or the whole set) exceeding a store limit.
type LimitError struct {
	Key   string
	What  string
	Limit int
	Size  int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s exceeds %d bytes (%d bytes)", e.Key, e.What, e.Limit, e.Size)
}

// TotalBytes returns the summed key and value sizes of entries.
func TotalBytes(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += len(e.Key) + len(e.Value)
	}
	return total
}

// Validate checks every entry against the store limits and joins the
// violations into one error. It returns nil when all entries fit.
func Validate(entries []Entry) error {
	var errs []error
	for _, e := range entries {
		if n := len(e.Key); n > MaxKeyBytes {
			errs = append(errs, &LimitError{Key: e.Key, What: "key", Limit: MaxKeyBytes, Size: n})
		}
		if n := len(e.Key) + len(e.Value); n > MaxEntryBytes {
			errs = append(errs, &LimitError{Key: e.Key, What: "key+value", Limit: MaxEntryBytes, Size: n})
		}
	}
	if total := TotalBytes(entries); total > MaxTotalBytes {
		errs = append(errs, &LimitError{Key: "(total)", What: "store data", Limit: MaxTotalBytes, Size: total})
	}
	return errors.Join(errs...)
}
