//go:build linux

package receiver

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/arloliu/mebo/endian"
	"golang.org/x/sys/unix"
)

// readTimeout bounds how long a receive blocks so Stop is observed promptly.
const readTimeout = 100 * time.Millisecond

type socketSource struct {
	fd int
}

// OpenInterface opens an AF_PACKET raw socket bound to the named interface
// with all-multicast reception enabled. It requires CAP_NET_RAW.
func OpenInterface(ifaceID string) (PacketSource, error) {
	ifi, err := net.InterfaceByName(ifaceID)
	if err != nil {
		return nil, err
	}

	proto := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("raw socket: %w", err)
	}

	if err := configureSocket(fd, ifi.Index, proto); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &socketSource{fd: fd}, nil
}

func configureSocket(fd, ifindex int, proto uint16) error {
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifindex}); err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	mreq := unix.PacketMreq{Ifindex: int32(ifindex), Type: unix.PACKET_MR_ALLMULTI}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
		return fmt.Errorf("allmulti membership: %w", err)
	}

	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("receive timeout: %w", err)
	}

	return nil
}

func (s *socketSource) ReadPacket(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, os.ErrDeadlineExceeded
		}

		if errors.Is(err, unix.EBADF) {
			return 0, fmt.Errorf("recvfrom: %w", net.ErrClosed)
		}

		return 0, err
	}

	return n, nil
}

func (s *socketSource) Close() error { return unix.Close(s.fd) }

func htons(v uint16) uint16 {
	if endian.IsNativeBigEndian() {
		return v
	}

	return v<<8 | v>>8
}
