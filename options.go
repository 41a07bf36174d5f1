package cache

import "github.com/krisalay/tiered-cache/api"

// Re-exported so callers only need this package for everyday use.

type SetOption = api.SetOption

type Stats = api.Stats

type Item[V any] = api.Item[V]

var (
	WithTTL      = api.WithTTL
	WithMetadata = api.WithMetadata
	WithTags     = api.WithTags
	WithDomain   = api.WithDomain
)
