package keyresolver

import (
	"fmt"
	"net"
	"os"
)

// ServerNode buckets keys per running process (host address and pid).
type ServerNode struct {
	node string
}

func NewServerNode() (*ServerNode, error) {
	host, err := hostAddress()
	if err != nil {
		return nil, err
	}
	return &ServerNode{node: fmt.Sprintf("%s@%d", host, os.Getpid())}, nil
}

// NewServerNodeWithID is used when the node identity is assigned externally.
func NewServerNodeWithID(node string) *ServerNode {
	return &ServerNode{node: node}
}

func (s *ServerNode) Node() string { return s.node }

func (s *ServerNode) Resolve(inv Invocation) (string, error) {
	args, err := encodeArgs(inv.Args)
	if err != nil {
		return "", err
	}
	return Digest(inv.Method, args, s.node), nil
}

func hostAddress() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}

	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve host address: %w", err)
	}
	return host, nil
}
