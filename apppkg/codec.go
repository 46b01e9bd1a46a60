package apppkg

import "github.com/fxamacker/cbor/v2"

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Building or
// signing the same inputs always produces identical bytes.
var encMode cbor.EncMode

// decMode rejects duplicate map keys and indefinite-length items, neither of
// which a conforming package or signature contains.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("apppkg: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("apppkg: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR major types, from the high three bits of an item's first byte.
const (
	majorUnsigned = 0
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
	majorTag      = 6
)

const (
	cborFalse = 0xf4
	cborTrue  = 0xf5
)

func majorType(item cbor.RawMessage) int {
	if len(item) == 0 {
		return -1
	}
	return int(item[0] >> 5)
}

// Diagnose returns CBOR diagnostic notation for the first item in data.
func Diagnose(data []byte) (string, error) {
	s, _, err := cbor.DiagnoseFirst(data)
	return s, err
}
