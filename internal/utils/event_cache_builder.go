package utils

// BuildRulesListCacheKey builds a deterministic cache key for the
// enabled-rules-plus-actions read the fan-out consumer and the rules
// cache share.
func BuildRulesListCacheKey(enabledOnly bool) string {
	if enabledOnly {
		return "rules:list:v1:enabled=true"
	}
	return "rules:list:v1:enabled=all"
}
