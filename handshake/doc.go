// Package handshake implements the unmount handshake between a mount
// daemon and the short-lived process requesting the unmount. Messages
// are fixed-layout records carried over two independent point-to-point
// channels: requests travel on one, daemon replies on the other. The
// protocol is version-tolerant (messages requiring a newer reader are
// ignored, not fatal) and bounds every wait with a timeout backed by a
// daemon liveness probe.
package handshake
