// Package types defines shared types used across the skein execution core.
package types
