//go:build !linux && !darwin && !windows

package platform

const nativeStack = NoStack
