package txstore

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"time"
)

// Record is a stored transaction: metadata plus the raw encoded payload as
// returned by the upstream RPC.
type Record struct {
	Signature string
	Slot      uint64
	// BlockTime is the chain block time in unix seconds; 0 when unknown.
	BlockTime int64
	Payload   []byte
	FetchedAt time.Time
	// ExpiresAt is zero when retention is unbounded.
	ExpiresAt time.Time
}

// recordHeader is the JSON metadata framed ahead of the payload bytes.
type recordHeader struct {
	Signature string `json:"sig"`
	Slot      uint64 `json:"slot"`
	BlockTime int64  `json:"blockTime,omitempty"`
	FetchedMs int64  `json:"fetchedMs"`
	ExpiresMs int64  `json:"expiresMs,omitempty"`
}

// Value encoding: varint headerLen | header JSON | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames a record for storage.
func EncodeRecord(r Record) ([]byte, error) {
	hdr := recordHeader{
		Signature: r.Signature,
		Slot:      r.Slot,
		BlockTime: r.BlockTime,
		FetchedMs: r.FetchedAt.UnixMilli(),
	}
	if !r.ExpiresAt.IsZero() {
		hdr.ExpiresMs = r.ExpiresAt.UnixMilli()
	}
	header, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 10+len(header)+len(r.Payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, r.Payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, r.Payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out, nil
}

// DecodeRecord parses a framed record. The second return is false when the
// frame is malformed or fails its checksum.
func DecodeRecord(b []byte) (Record, bool) {
	if len(b) < 1+4 {
		return Record{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Record{}, false
	}
	if n+int(hlen)+4 > len(b) {
		return Record{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Record{}, false
	}
	var hdr recordHeader
	if err := json.Unmarshal(header, &hdr); err != nil {
		return Record{}, false
	}
	rec := Record{
		Signature: hdr.Signature,
		Slot:      hdr.Slot,
		BlockTime: hdr.BlockTime,
		Payload:   append([]byte(nil), payload...),
		FetchedAt: time.UnixMilli(hdr.FetchedMs),
	}
	if hdr.ExpiresMs != 0 {
		rec.ExpiresAt = time.UnixMilli(hdr.ExpiresMs)
	}
	return rec, true
}
