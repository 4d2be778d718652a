// Package servermap provides the server directory: which address each
// ServerID listens on, for cluster-internal and client-facing traffic.
package servermap

import (
	"sort"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// ServerIDMap resolves server ids to addresses and back.
// Implementations are immutable after construction and safe for concurrent use.
type ServerIDMap interface {
	// LookupInternal returns the cluster-internal address of id.
	LookupInternal(id domain.ServerID) (domain.Address, bool)
	// LookupInternalID returns the server listening internally on addr.
	LookupInternalID(addr domain.Address) (domain.ServerID, bool)
	// LookupExternal returns the client-facing address of id.
	LookupExternal(id domain.ServerID) (domain.Address, bool)
	// LookupExternalID returns the server listening externally on addr.
	LookupExternalID(addr domain.Address) (domain.ServerID, bool)
	// Servers lists every known id in ascending order.
	Servers() []domain.ServerID
}

// Entry pairs a server id with its addresses.
type Entry struct {
	ID      domain.ServerID      `json:"id"`
	Address domain.ServerAddress `json:"address"`
}

// Entries lists the directory contents in id order.
func Entries(m ServerIDMap) []Entry {
	ids := m.Servers()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		var e Entry
		e.ID = id
		e.Address.Internal, _ = m.LookupInternal(id)
		e.Address.External, _ = m.LookupExternal(id)
		out = append(out, e)
	}
	return out
}
