package txstore

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
//   - meta/schema                      schema version marker
//   - tx/{signature}                   framed transaction record
//   - slot/{slot_be8}/{signature}      slot range index (value: signature)
//   - exp/{expiry_ms_be8}/{signature}  retention sweep index (value: empty)
var (
	keySchema    = []byte("meta/schema")
	prefixTx     = []byte("tx/")
	prefixSlot   = []byte("slot/")
	prefixExpiry = []byte("exp/")
	sep          = byte('/')
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyTx builds the primary record key for a signature.
func KeyTx(signature string) []byte {
	k := make([]byte, 0, len(prefixTx)+len(signature))
	k = append(k, prefixTx...)
	k = append(k, signature...)
	return k
}

// KeySlot builds the slot index key with a big-endian slot for ordering.
func KeySlot(slot uint64, signature string) []byte {
	k := make([]byte, 0, len(prefixSlot)+9+len(signature))
	k = append(k, prefixSlot...)
	k = appendBE8(k, slot)
	k = append(k, sep)
	k = append(k, signature...)
	return k
}

// KeyExpiry builds the retention index key with a big-endian expiry
// timestamp (unix ms) for ordered sweeping.
func KeyExpiry(expiryMs int64, signature string) []byte {
	k := make([]byte, 0, len(prefixExpiry)+9+len(signature))
	k = append(k, prefixExpiry...)
	k = appendBE8(k, uint64(expiryMs))
	k = append(k, sep)
	k = append(k, signature...)
	return k
}

// upperBound returns the exclusive upper bound for scanning all keys with
// the given prefix.
func upperBound(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), 0xff)
}
