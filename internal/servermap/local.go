package servermap

import "github.com/yndnr/segmesh-go/internal/core/domain"

// Local is the single-server directory used for development.
// There are no other internal servers, so internal lookups always fail.
type Local struct {
	id       domain.ServerID
	external domain.Address
}

// NewLocal creates a directory holding only id at external.
func NewLocal(id domain.ServerID, external domain.Address) *Local {
	if !id.Valid() {
		id = 1
	}
	return &Local{id: id, external: external}
}

// LookupInternal always fails.
func (l *Local) LookupInternal(domain.ServerID) (domain.Address, bool) {
	return domain.Address{}, false
}

// LookupInternalID always fails.
func (l *Local) LookupInternalID(domain.Address) (domain.ServerID, bool) {
	return domain.NullServerID, false
}

// LookupExternal succeeds only for the configured server.
func (l *Local) LookupExternal(id domain.ServerID) (domain.Address, bool) {
	if id != l.id {
		return domain.Address{}, false
	}
	return l.external, true
}

// LookupExternalID succeeds only for the configured address.
func (l *Local) LookupExternalID(addr domain.Address) (domain.ServerID, bool) {
	if addr != l.external {
		return domain.NullServerID, false
	}
	return l.id, true
}

// Servers implements ServerIDMap.
func (l *Local) Servers() []domain.ServerID {
	return []domain.ServerID{l.id}
}
