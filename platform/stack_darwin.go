//go:build darwin

package platform

const nativeStack = CoreBluetoothStack
