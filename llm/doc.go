// Package llm defines the narrow call-provider contract consumed by the
// execution core and a caching wrapper that memoizes completions through
// the tiered cache.
package llm
