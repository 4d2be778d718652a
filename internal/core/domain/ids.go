package domain

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// ServerID identifies a cluster node. NullServerID is reserved.
type ServerID uint32

// NullServerID is the "no server" sentinel.
const NullServerID ServerID = 0

// Valid reports whether s is not the null sentinel.
func (s ServerID) Valid() bool {
	return s != NullServerID
}

func (s ServerID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseServerID parses a decimal server id.
func ParseServerID(s string) (ServerID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return NullServerID, fmt.Errorf("parse server id %q: %w", s, err)
	}
	return ServerID(v), nil
}

// ObjectID identifies a simulated entity.
type ObjectID = uuid.UUID

// ParseObjectID parses the canonical textual UUID form.
func ParseObjectID(s string) (ObjectID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse object id %q: %w", s, err)
	}
	return id, nil
}

// NewObjectID returns a random object id.
func NewObjectID() ObjectID {
	return uuid.New()
}

// Address is a host/port pair.
type Address struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// String renders the address as host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// ParseAddress parses host:port.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return Address{Host: host, Port: uint16(port)}, nil
}

// ServerAddress holds the two faces of a server.
type ServerAddress struct {
	Internal Address `json:"internal"`
	External Address `json:"external"`
}

func (a ServerAddress) String() string {
	return "internal=" + a.Internal.String() + " external=" + a.External.String()
}
