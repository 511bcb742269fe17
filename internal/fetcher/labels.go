package fetcher

// labelMap translates user-facing Gmail label names to provider-internal
// category identifiers. Unmapped names pass through unchanged.
var labelMap = map[string]string{
	"Primary":    "CATEGORY_PERSONAL",
	"Promotions": "CATEGORY_PROMOTIONS",
	"Social":     "CATEGORY_SOCIAL",
	"Updates":    "CATEGORY_UPDATES",
	"Forums":     "CATEGORY_FORUMS",
}

// MapLabel resolves a user-facing label name to its provider identifier.
func MapLabel(name string) string {
	if mapped, ok := labelMap[name]; ok {
		return mapped
	}
	return name
}

// MapLabels resolves a list of label names.
func MapLabels(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, MapLabel(name))
	}
	return out
}
