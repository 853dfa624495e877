//go:build !linux

package receiver

// OpenInterface is only implemented on Linux.
func OpenInterface(string) (PacketSource, error) { return nil, ErrNotSupported }
