//go:build windows

package process

func groupAlive(int) bool { return false }
