package types

// Metadata is the open key-value bag attached to an entry.
type Metadata map[string]any

// WithTags returns metadata carrying the given tags.
func WithTags(tags ...string) Metadata {
	return Metadata{MetaTags: tags}
}

// WithDomain returns metadata carrying the given domain.
func WithDomain(domain string) Metadata {
	return Metadata{MetaDomain: domain}
}

// Clone returns a shallow copy so stored entries never share a map with the caller.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into m, replacing existing keys.
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil && other == nil {
		return nil
	}
	if m == nil {
		m = make(Metadata, len(other))
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

/*
Tags returns the reserved "tags" value as a string slice.

After a JSON round trip through the durable tier the value comes back as
[]any, so both shapes are accepted. Anything else yields nil.
*/
func (m Metadata) Tags() []string {
	switch v := m[MetaTags].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

// HasTag reports whether tag is one of the entry's tags.
func (m Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// Domain returns the reserved "domain" value, or "" when unset.
func (m Metadata) Domain() string {
	d, _ := m[MetaDomain].(string)
	return d
}
