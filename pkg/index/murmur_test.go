package index

import "testing"

func TestMurmurHash64A_EmptyString(t *testing.T) {
	// The teacher's OpenIndex uses this exact value (murmurhash64a("",
	// 0x1337b33f)) as a magic constant to detect murmur-hashed indices,
	// confirming this implementation against an independently known value.
	got := MurmurHash64A(nil, PathDictionarySeed)
	want := uint64(0xf42a94e69cff42fe)
	if got != want {
		t.Fatalf("MurmurHash64A(\"\", seed) = %#x, want %#x", got, want)
	}
}

func TestMurmurHash64A_Deterministic(t *testing.T) {
	a := MurmurHash64A([]byte("Art/Textures/interface/example.dds"), PathDictionarySeed)
	b := MurmurHash64A([]byte("Art/Textures/interface/example.dds"), PathDictionarySeed)
	if a != b {
		t.Fatalf("hash not deterministic: %#x != %#x", a, b)
	}
}

func TestMurmurHash64A_SeedSensitive(t *testing.T) {
	a := MurmurHash64A([]byte("same input"), 1)
	b := MurmurHash64A([]byte("same input"), 2)
	if a == b {
		t.Fatal("expected different seeds to produce different hashes")
	}
}

func TestMurmurHash64A_VariesByLength(t *testing.T) {
	seen := make(map[uint64]bool)
	for _, s := range []string{"a", "ab", "abc", "abcd", "abcde", "abcdef", "abcdefg", "abcdefgh", "abcdefghi"} {
		h := MurmurHash64A([]byte(s), PathDictionarySeed)
		if seen[h] {
			t.Fatalf("collision for input length %d", len(s))
		}
		seen[h] = true
	}
}
