package anthropic

// BuildCachedSystemBlocks returns text as a single system block marked as a
// prompt-cache breakpoint. Repeated generations within a run share the
// instructions, so only the per-lead user turn is billed at full rate.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "5m"}}}
}
