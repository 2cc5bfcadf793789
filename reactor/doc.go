// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a poll(2)-based readiness multiplexer whose Wait
// can be released from another goroutine through a private waker descriptor.
package reactor
