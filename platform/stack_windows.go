//go:build windows

package platform

const nativeStack = MicrosoftBluetoothStack
