//go:build linux

package platform

const nativeStack = BluezStack
