package manifest

import (
	"fmt"
	"unicode/utf8"
)

// Decode parses packed manifest bytes. It is the strict inverse of Encode:
// a short identifier, a truncated record, an unknown tag, a repeated
// single-valued tag or a malformed field ends decoding with a KindDecode
// error. No partial Document is returned.
func Decode(data []byte) (*Document, error) {
	if len(data) < UUIDSize {
		return nil, newError(KindDecode, RuleDecodeShortUUID,
			fmt.Sprintf("packed manifest is %d bytes, shorter than the %d byte uuid", len(data), UUIDSize))
	}
	var uuid UUID
	copy(uuid[:], data[:UUIDSize])
	d := decoder{data: data, off: UUIDSize}
	doc := &Document{UUID: uuid.String()}

	for d.off < len(d.data) {
		tagOff := d.off
		raw, err := d.u32("tag")
		if err != nil {
			return nil, err
		}
		tag := Tag(raw)
		switch tag {
		case TagMinHeapSize:
			if doc.MinHeap != nil {
				return nil, duplicateTag(tag, tagOff)
			}
			v, err := d.u32(KeyMinHeap)
			if err != nil {
				return nil, err
			}
			doc.MinHeap = &v
		case TagMinStackSize:
			if doc.MinStack != nil {
				return nil, duplicateTag(tag, tagOff)
			}
			v, err := d.u32(KeyMinStack)
			if err != nil {
				return nil, err
			}
			doc.MinStack = &v
		case TagMapMem:
			var words [3]uint32
			for i, field := range []string{KeyMemMapID, KeyMemMapAddr, KeyMemMapSize} {
				if words[i], err = d.u32(KeyMemMap + "." + field); err != nil {
					return nil, err
				}
			}
			doc.MemMap = append(doc.MemMap, DocMemMap{ID: words[0], Addr: words[1], Size: words[2]})
		case TagMgmtFlags:
			if doc.MgmtFlags != nil {
				return nil, duplicateTag(tag, tagOff)
			}
			restart, err := d.flag(KeyMgmtFlags + "." + KeyRestartOnExit)
			if err != nil {
				return nil, err
			}
			deferred, err := d.flag(KeyMgmtFlags + "." + KeyDeferredStart)
			if err != nil {
				return nil, err
			}
			doc.MgmtFlags = &DocMgmtFlags{RestartOnExit: restart, DeferredStart: deferred}
		case TagStartPort:
			port, err := d.startPort()
			if err != nil {
				return nil, err
			}
			doc.StartPorts = append(doc.StartPorts, port)
		default:
			return nil, newError(KindDecode, RuleDecodeUnknownTag,
				fmt.Sprintf("unknown tag %d at offset %d", raw, tagOff))
		}
	}
	return doc, nil
}

func duplicateTag(tag Tag, off int) error {
	return newError(KindDecode, RuleDecodeDuplicateTag,
		fmt.Sprintf("duplicate %s record at offset %d", tag, off))
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) take(field string, n int) ([]byte, error) {
	if n < 0 || len(d.data)-d.off < n {
		return nil, newError(KindDecode, RuleDecodeTruncated,
			fmt.Sprintf("truncated %s at offset %d: need %d bytes, have %d", field, d.off, n, len(d.data)-d.off))
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) u32(field string) (uint32, error) {
	b, err := d.take(field, 4)
	if err != nil {
		return 0, err
	}
	return endian.Uint32(b), nil
}

func (d *decoder) flag(field string) (bool, error) {
	off := d.off
	v, err := d.u32(field)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, newError(KindDecode, RuleDecodeFlagValue,
			fmt.Sprintf("%s at offset %d is %d, want 0 or 1", field, off, v))
	}
}

func (d *decoder) startPort() (DocStartPort, error) {
	field := KeyStartPorts + "." + KeyPortName
	n, err := d.u32(field + " length")
	if err != nil {
		return DocStartPort{}, err
	}
	if uint64(n) > uint64(len(d.data)-d.off) {
		return DocStartPort{}, newError(KindDecode, RuleDecodeTruncated,
			fmt.Sprintf("truncated %s at offset %d: need %d bytes, have %d", field, d.off, n, len(d.data)-d.off))
	}
	name, err := d.take(field, int(n))
	if err != nil {
		return DocStartPort{}, err
	}
	if !utf8.Valid(name) {
		return DocStartPort{}, newError(KindDecode, RuleDecodePortName,
			fmt.Sprintf("%s at offset %d is not valid UTF-8", field, d.off-len(name)))
	}
	pad, err := d.take(field+" padding", padding(len(name)))
	if err != nil {
		return DocStartPort{}, err
	}
	for _, b := range pad {
		if b != 0 {
			return DocStartPort{}, newError(KindDecode, RuleDecodePortName,
				fmt.Sprintf("non-zero %s padding before offset %d", field, d.off))
		}
	}
	prefix := KeyStartPorts + "." + KeyPortFlags + "."
	ta, err := d.flag(prefix + KeyAllowTAConnect)
	if err != nil {
		return DocStartPort{}, err
	}
	ns, err := d.flag(prefix + KeyAllowNSConnect)
	if err != nil {
		return DocStartPort{}, err
	}
	return DocStartPort{
		Name:  string(name),
		Flags: DocPortFlags{AllowTAConnect: ta, AllowNSConnect: ns},
	}, nil
}
