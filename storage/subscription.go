package storage

// SubscriptionKind distinguishes the three ways a field's preload window
// can be declared.
type SubscriptionKind int

// Supported subscription kinds.
const (
	// SubscriptionLast preloads the last N turns by key (descending).
	SubscriptionLast SubscriptionKind = iota
	// SubscriptionKeys preloads exactly the given keys.
	SubscriptionKeys
	// SubscriptionAll preloads every key.
	SubscriptionAll
)

// Subscription is a per-field preload policy: advisory for the Context
// Dict (explicit fetches always succeed if the key exists in storage).
type Subscription struct {
	Kind SubscriptionKind
	N    int
	Keys map[int64]struct{}
}

// Last builds a Subscription preloading the last n turns by key.
func Last(n int) Subscription {
	return Subscription{Kind: SubscriptionLast, N: n}
}

// KeySet builds a Subscription preloading exactly the given keys.
func KeySet(keys ...int64) Subscription {
	set := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return Subscription{Kind: SubscriptionKeys, Keys: set}
}

// All builds a Subscription preloading every key.
func All() Subscription {
	return Subscription{Kind: SubscriptionAll}
}

// SubscriptionConfig declares the preload policy for each of the three
// history fields, supplied when a Context is connected (dialogctx.Connected,
// or pipeline.WithSubscriptionConfig), not to a storage backend.
type SubscriptionConfig struct {
	Labels    Subscription
	Requests  Subscription
	Responses Subscription
}

// DefaultSubscriptionConfig preloads the last turn only for every field,
// per spec's stated defaults.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Labels:    Last(1),
		Requests:  Last(1),
		Responses: Last(1),
	}
}

// For returns the Subscription configured for the given field.
func (c SubscriptionConfig) For(field FieldName) Subscription {
	switch field {
	case FieldLabels:
		return c.Labels
	case FieldRequests:
		return c.Requests
	case FieldResponses:
		return c.Responses
	default:
		return Last(1)
	}
}

// Select filters and orders items (already key-descending from the
// backend) per the subscription policy.
func (s Subscription) Select(items []FieldItem) []FieldItem {
	switch s.Kind {
	case SubscriptionAll:
		return items
	case SubscriptionKeys:
		out := make([]FieldItem, 0, len(s.Keys))
		for _, it := range items {
			if _, ok := s.Keys[it.Key]; ok {
				out = append(out, it)
			}
		}
		return out
	case SubscriptionLast:
		n := s.N
		if n <= 0 {
			return nil
		}
		if n >= len(items) {
			return items
		}
		return items[:n]
	default:
		return items
	}
}
