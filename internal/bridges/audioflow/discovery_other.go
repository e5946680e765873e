//go:build !unix

package audioflow

import "syscall"

// enableBroadcast is a no-op where the runtime already permits broadcast.
func enableBroadcast(_, _ string, _ syscall.RawConn) error {
	return nil
}
