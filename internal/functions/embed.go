// Package functions publishes the CloudFront viewer-request function that
// answers requests found in the redirect KeyValueStore with a 301.
package functions

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed redirect.js
var redirectJS []byte

// StoreID returns the KeyValueStore ID, the last segment of its ARN.
func StoreID(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// Code returns the function source bound to the store with the given ARN.
func Code(arn string) []byte {
	header := fmt.Sprintf("var kvsId = '%s';\n", StoreID(arn))
	return append([]byte(header), redirectJS...)
}
