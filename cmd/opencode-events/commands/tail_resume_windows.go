//go:build windows

package commands

import "os"

// notifyResume never fires; Windows has no resume signal.
func notifyResume() (<-chan os.Signal, func()) {
	return nil, func() {}
}
