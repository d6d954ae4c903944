package run

// ProviderKind identifies a search capability. The set is closed: provider
// specific settings hang off a tagged variant per kind rather than an open
// map.
type ProviderKind string

const (
	ProviderWeb      ProviderKind = "web"
	ProviderAcademic ProviderKind = "academic"
	ProviderPatent   ProviderKind = "patent"
	ProviderLocal    ProviderKind = "local"
)

// KnownProviderKinds lists every supported kind in a stable order.
func KnownProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderWeb, ProviderAcademic, ProviderPatent, ProviderLocal}
}

// ValidProviderKind reports whether k names a supported search capability.
func ValidProviderKind(k ProviderKind) bool {
	switch k {
	case ProviderWeb, ProviderAcademic, ProviderPatent, ProviderLocal:
		return true
	}
	return false
}

// ProviderDescriptions is shown to the planner model so it can pick
// sensible per-section search options.
var ProviderDescriptions = map[ProviderKind]string{
	ProviderWeb:      "General web search, good for broad information gathering",
	ProviderAcademic: "Academic papers and preprints, best for scientific topics",
	ProviderPatent:   "Patent databases, best for invention and prior-art topics",
	ProviderLocal:    "Search through locally stored documents",
}

// ContainsProviderKind reports whether kinds includes k.
func ContainsProviderKind(kinds []ProviderKind, k ProviderKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// WithoutProviderKind returns kinds with every occurrence of k removed,
// preserving order.
func WithoutProviderKind(kinds []ProviderKind, k ProviderKind) []ProviderKind {
	out := make([]ProviderKind, 0, len(kinds))
	for _, kind := range kinds {
		if kind != k {
			out = append(out, kind)
		}
	}
	return out
}

// FilterProviderKinds keeps only the kinds present in allowed, preserving
// order. An empty result means the caller should fall back to a default.
func FilterProviderKinds(kinds, allowed []ProviderKind) []ProviderKind {
	allowedSet := make(map[ProviderKind]struct{}, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = struct{}{}
	}
	out := make([]ProviderKind, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := allowedSet[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
