package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// MaxHashNumber bounds shard keys: every key is in [0, MaxHashNumber).
const MaxHashNumber = 5135

// ObjectHash is the UUID hash: the leading eight bytes read as a
// little-endian machine word.
func ObjectHash(id ObjectID) uint64 {
	return binary.LittleEndian.Uint64(id[0:8])
}

// ObjectShardKey maps an object to its backing-store shard.
func ObjectShardKey(id ObjectID) uint32 {
	return uint32(ObjectHash(id) % MaxHashNumber)
}

// hash32 is murmur3 over the little-endian encoding of v.
func hash32(v uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return murmur3.Sum32(b[:])
}

// ServerShardKey maps a server to a shard:
// (hash32(low16(s)) xor hash32(s << 16)) mod MaxHashNumber.
func ServerShardKey(s ServerID) uint32 {
	low := uint32(s) & 0xFFFF
	return (hash32(low) ^ hash32(uint32(s)<<16)) % MaxHashNumber
}

// KeyPrefixObject namespaces object ownership records in the backing store.
const KeyPrefixObject = 'o'

// StoreKey builds the backing-store key for an object:
// prefix, four-digit shard key, 32 hex characters of the UUID.
func StoreKey(id ObjectID) string {
	return fmt.Sprintf("%c%04d%s", KeyPrefixObject, ObjectShardKey(id), hex.EncodeToString(id[:]))
}

// ParseStoreKey recovers the object id from a store key.
func ParseStoreKey(key string) (ObjectID, error) {
	if len(key) != 1+4+32 || key[0] != KeyPrefixObject {
		return ObjectID{}, ErrProtocol.WithDetails("malformed store key %q", key)
	}
	var id ObjectID
	if _, err := hex.Decode(id[:], []byte(key[5:])); err != nil {
		return ObjectID{}, ErrProtocol.WithDetails("malformed store key %q", key).WithCause(err)
	}
	return id, nil
}
