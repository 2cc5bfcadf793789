//go:build unix && !linux

package session

// The Go runtime already turns SIGPIPE on non-stdio descriptors into EPIPE.
const sendFlags = 0
