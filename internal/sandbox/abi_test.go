package sandbox

import "testing"

func TestPackUnpackPtrLen(t *testing.T) {
	cases := []struct {
		ptr, length uint32
	}{
		{0, 0},
		{1, 1},
		{65536, 4096},
		{0xFFFFFFFF, 0xFFFFFFFF},
	}
	for _, c := range cases {
		packed := packPtrLen(c.ptr, c.length)
		gotPtr, gotLen := unpackPtrLen(packed)
		if gotPtr != c.ptr || gotLen != c.length {
			t.Fatalf("roundtrip(%d,%d) = (%d,%d)", c.ptr, c.length, gotPtr, gotLen)
		}
	}
}
