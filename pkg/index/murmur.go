package index

import "encoding/binary"

// MurmurHash64A implements Austin Appleby's 64-bit MurmurHash2 variant
// (MurmurHash64A), used to hash reconstructed file paths against the
// index's file table (spec.md §3, seed 0x1337b33f).
//
// The teacher's own implementation of this hash was a non-functional FNV1a
// placeholder (its author's comment: "This will produce WRONG hashes for
// Murmur-based indices"). Hand-implemented here from the public reference
// algorithm since it is load-bearing for path reconstruction.
func MurmurHash64A(data []byte, seed uint64) uint64 {
	const m = 0xc6a4a7935bd1e995
	const r = 47

	h := seed ^ (uint64(len(data)) * m)

	n := len(data) - len(data)%8
	for i := 0; i < n; i += 8 {
		k := binary.LittleEndian.Uint64(data[i : i+8])
		k *= m
		k ^= k >> r
		k *= m

		h ^= k
		h *= m
	}

	tail := data[n:]
	var k uint64
	switch len(tail) {
	case 7:
		k ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint64(tail[0])
		h ^= k
		h *= m
	}

	h ^= h >> r
	h *= m
	h ^= h >> r

	return h
}
