package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a ListenConfig whose sockets get
// SO_REUSEADDR before bind, so a restarted matchmaker can reclaim its port
// while the old socket lingers.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: controlReuseAddr}
}

func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) { sockErr = setReuseAddr(fd) }); err != nil {
		return err
	}
	return sockErr
}
