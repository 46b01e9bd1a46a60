package manifest

import (
	"encoding/hex"
	"strings"
)

// UUID is an application identifier in wire order: the first three
// canonical fields are stored little-endian, the last two as they appear in
// the text form. The loader reads the first three fields as integers.
type UUID [16]byte

// uuidGroupSizes is the byte length of each hyphen-separated group.
var uuidGroupSizes = [5]int{4, 2, 2, 2, 6}

// ParseUUID converts canonical text ("5f902ace-5e5c-4cd8-ae54-87b88c22ddaf")
// into wire order. Malformed input is recorded in log.
func ParseUUID(text string, log *Log) Opt[UUID] {
	if len(text) != 36 {
		log.Errorf(RuleUUIDLength, "invalid UUID %q, uuid should be 36 characters of grouped hex values", text)
		return None[UUID]()
	}
	groups := strings.Split(text, "-")
	if len(groups) != 5 {
		log.Errorf(RuleUUIDGroups, "invalid UUID %q, uuid should be 16 bytes of hex divided into 5 groups", text)
		return None[UUID]()
	}
	decoded := make([][]byte, len(groups))
	for i, g := range groups {
		b, err := hex.DecodeString(g)
		if err != nil {
			log.Errorf(RuleUUIDHex, "invalid UUID %q, %v", text, err)
			return None[UUID]()
		}
		decoded[i] = b
	}
	for i, b := range decoded {
		if len(b) != uuidGroupSizes[i] {
			log.Errorf(RuleUUIDGrouping, "wrong grouping of UUID %q", text)
			return None[UUID]()
		}
	}

	var u UUID
	off := 0
	for i, b := range decoded {
		if i < 3 {
			for j := len(b) - 1; j >= 0; j-- {
				u[off] = b[j]
				off++
			}
			continue
		}
		off += copy(u[off:], b)
	}
	return Some(u)
}

// swapUUIDBytes reverses the first three fields. It is its own inverse.
func swapUUIDBytes(b [16]byte) [16]byte {
	return [16]byte{
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15],
	}
}

// String returns the canonical 8-4-4-4-12 lowercase text form.
func (u UUID) String() string {
	canon := swapUUIDBytes(u)
	h := hex.EncodeToString(canon[:])
	return h[:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:]
}
