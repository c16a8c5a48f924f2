// Package wire holds the value types shared between the client and the
// master/worker endpoints: network addresses and worker descriptions.
package wire

import (
	"fmt"
	"net"
	"strconv"
)

// Address is a (host, port) pair identifying a master or worker endpoint.
// It is a comparable value type: two Addresses are the same endpoint iff
// they are ==. Used as the key of every address-keyed map in this module.
type Address struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Addr is a shorthand constructor.
func Addr(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// ParseAddress parses "host:port".
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("bad port in address %q: %w", s, err)
	}
	return Address{Host: host, Port: port}, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether a is the zero Address (no endpoint).
func (a Address) IsZero() bool {
	return a == Address{}
}

// WorkerInfo describes one worker known to the master.
type WorkerInfo struct {
	Address  Address `json:"address"`
	Hostname string  `json:"hostname"`
}
