//go:build !linux

package audio

func monotonicNanos() int64 { return fallbackNanos() }
