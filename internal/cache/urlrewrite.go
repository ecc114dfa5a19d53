package cache

import (
	"strings"
	"sync"
)

// Size variants a blob can be requested in.
const (
	VariantThumbnail = "thumbnail"
	VariantPreview   = "preview"
	VariantFull      = "full"
)

const blobScheme = "walrus://"

// Rewriter converts content-addressed blob references into fetchable HTTP
// URLs against an aggregator. Results are memoized per (reference,
// variant) for the process lifetime: blob content is immutable, so the
// mapping never changes.
type Rewriter struct {
	baseURL string

	mu   sync.Mutex
	memo map[string]string
}

// NewRewriter returns a rewriter serving blobs from the given aggregator
// base URL.
func NewRewriter(baseURL string) *Rewriter {
	return &Rewriter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		memo:    make(map[string]string),
	}
}

// ResolveBlobURL maps a blob reference and size variant to an HTTP URL.
// Plain http(s) URLs pass through unchanged; empty input yields "".
func (r *Rewriter) ResolveBlobURL(ref, variant string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	variant = normalizeVariant(variant)
	key := ref + "|" + variant

	r.mu.Lock()
	defer r.mu.Unlock()

	if resolved, ok := r.memo[key]; ok {
		return resolved
	}

	resolved := r.buildURL(ref, variant)
	r.memo[key] = resolved

	return resolved
}

func (r *Rewriter) buildURL(ref, variant string) string {
	blobID := strings.TrimPrefix(ref, blobScheme)
	resolved := r.baseURL + "/v1/blobs/" + blobID

	if variant != VariantFull {
		resolved += "?preset=" + variant
	}

	return resolved
}

func normalizeVariant(variant string) string {
	switch variant {
	case VariantThumbnail, VariantPreview:
		return variant
	default:
		return VariantFull
	}
}
