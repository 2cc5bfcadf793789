//go:build linux

package session

import "golang.org/x/sys/unix"

// A write to a closed peer reports EPIPE instead of raising SIGPIPE.
const sendFlags = unix.MSG_NOSIGNAL
