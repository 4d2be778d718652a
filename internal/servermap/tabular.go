package servermap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Tabular is a ServerIDMap loaded from a text table, one server per line:
//
//	<ip>:<internal_port>:<external_port>
//
// Servers are numbered 1, 2, 3, ... in file order. Blank lines and lines
// starting with '#' are skipped and do not consume an id.
type Tabular struct {
	byID       map[domain.ServerID]domain.ServerAddress
	byInternal map[domain.Address]domain.ServerID
	byExternal map[domain.Address]domain.ServerID
	ids        []domain.ServerID
}

// LoadTabularFile parses the table stored at path.
func LoadTabularFile(path string) (*Tabular, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.ErrConfig.WithDetails("open server map %s", path).WithCause(err)
	}
	defer f.Close()

	return ParseTabular(f)
}

// ParseTabular parses a server table. Any malformed line, an address listed
// twice, or a table with no servers is a configuration error.
func ParseTabular(r io.Reader) (*Tabular, error) {
	t := &Tabular{
		byID:       make(map[domain.ServerID]domain.ServerAddress),
		byInternal: make(map[domain.Address]domain.ServerID),
		byExternal: make(map[domain.Address]domain.ServerID),
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	next := domain.ServerID(1)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		addr, err := parseLine(line)
		if err != nil {
			return nil, domain.ErrConfig.WithDetails("server map line %d", lineNo).WithCause(err)
		}
		if prev, ok := t.byInternal[addr.Internal]; ok {
			return nil, domain.ErrConfig.WithDetails("server map line %d: internal address %s already used by server %s", lineNo, addr.Internal, prev)
		}
		if prev, ok := t.byExternal[addr.External]; ok {
			return nil, domain.ErrConfig.WithDetails("server map line %d: external address %s already used by server %s", lineNo, addr.External, prev)
		}

		t.byID[next] = addr
		t.byInternal[addr.Internal] = next
		t.byExternal[addr.External] = next
		t.ids = append(t.ids, next)
		next++
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.ErrConfig.WithDetails("read server map").WithCause(err)
	}
	if len(t.ids) == 0 {
		return nil, domain.ErrConfig.WithDetails("server map has no servers")
	}

	return t, nil
}

func parseLine(line string) (domain.ServerAddress, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return domain.ServerAddress{}, fmt.Errorf("expected ip:internal_port:external_port, got %q", line)
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return domain.ServerAddress{}, fmt.Errorf("empty host in %q", line)
	}
	internal, err := parsePort(parts[1])
	if err != nil {
		return domain.ServerAddress{}, err
	}
	external, err := parsePort(parts[2])
	if err != nil {
		return domain.ServerAddress{}, err
	}

	return domain.ServerAddress{
		Internal: domain.Address{Host: host, Port: internal},
		External: domain.Address{Host: host, Port: external},
	}, nil
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(v), nil
}

// LookupInternal implements ServerIDMap.
func (t *Tabular) LookupInternal(id domain.ServerID) (domain.Address, bool) {
	a, ok := t.byID[id]
	return a.Internal, ok
}

// LookupInternalID implements ServerIDMap.
func (t *Tabular) LookupInternalID(addr domain.Address) (domain.ServerID, bool) {
	id, ok := t.byInternal[addr]
	return id, ok
}

// LookupExternal implements ServerIDMap.
func (t *Tabular) LookupExternal(id domain.ServerID) (domain.Address, bool) {
	a, ok := t.byID[id]
	return a.External, ok
}

// LookupExternalID implements ServerIDMap.
func (t *Tabular) LookupExternalID(addr domain.Address) (domain.ServerID, bool) {
	id, ok := t.byExternal[addr]
	return id, ok
}

// Servers implements ServerIDMap.
func (t *Tabular) Servers() []domain.ServerID {
	out := make([]domain.ServerID, len(t.ids))
	copy(out, t.ids)
	return out
}
