package manifest

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies a record in the packed manifest. These values are shared
// with the application loader and must never be renumbered.
type Tag uint32

const (
	TagMinStackSize Tag = 1
	TagMinHeapSize  Tag = 2
	TagMapMem       Tag = 3
	TagMgmtFlags    Tag = 4
	TagStartPort    Tag = 5
)

func (t Tag) String() string {
	switch t {
	case TagMinStackSize:
		return "min_stack_size"
	case TagMinHeapSize:
		return "min_heap_size"
	case TagMapMem:
		return "map_mem"
	case TagMgmtFlags:
		return "mgmt_flags"
	case TagStartPort:
		return "start_port"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

// UUIDSize is the length of the identifier header.
const UUIDSize = 16

var endian = binary.LittleEndian

// Encode packs d into the loader's binary layout:
//
//	uuid (16 bytes, wire order)
//	[min_heap_size: tag, u32]
//	[min_stack_size: tag, u32]
//	[map_mem: tag, id u32, addr u32, size u32] ...
//	[mgmt_flags: tag, restart_on_exit u32, deferred_start u32]
//	[start_port: tag, name_len u32, name, pad to 4, allow_ta u32, allow_ns u32] ...
//
// Absent optional fields are omitted. Integers are little-endian u32;
// values outside that range are rejected.
func Encode(d *Descriptor) ([]byte, error) {
	if d == nil {
		return nil, newError(KindEncode, RuleEncodeUnset, "nil descriptor")
	}
	e := encoder{buf: make([]byte, 0, UUIDSize+64)}
	e.buf = append(e.buf, d.UUID[:]...)

	if v, ok := d.MinHeap.Get(); ok {
		e.tag(TagMinHeapSize)
		e.u32(KeyMinHeap, Some(v))
	}
	if v, ok := d.MinStack.Get(); ok {
		e.tag(TagMinStackSize)
		e.u32(KeyMinStack, Some(v))
	}
	for i, m := range d.MemMap {
		scope := fmt.Sprintf("%s[%d].", KeyMemMap, i)
		e.tag(TagMapMem)
		e.u32(scope+KeyMemMapID, m.ID)
		e.u32(scope+KeyMemMapAddr, m.Addr)
		e.u32(scope+KeyMemMapSize, m.Size)
	}
	if flags, ok := d.MgmtFlags.Get(); ok {
		e.tag(TagMgmtFlags)
		e.flag(KeyMgmtFlags+"."+KeyRestartOnExit, flags.RestartOnExit)
		e.flag(KeyMgmtFlags+"."+KeyDeferredStart, flags.DeferredStart)
	}
	for i, p := range d.StartPorts {
		scope := fmt.Sprintf("%s[%d].", KeyStartPorts, i)
		e.tag(TagStartPort)
		e.name(scope+KeyPortName, p.Name)
		flags, ok := p.Flags.Get()
		if !ok && e.err == nil {
			e.err = newError(KindEncode, RuleEncodeUnset, scope+KeyPortFlags+" is unset")
		}
		e.flag(scope+KeyPortFlags+"."+KeyAllowTAConnect, flags.AllowTAConnect)
		e.flag(scope+KeyPortFlags+"."+KeyAllowNSConnect, flags.AllowNSConnect)
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// encoder appends fields and keeps the first error.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) tag(t Tag) {
	e.buf = endian.AppendUint32(e.buf, uint32(t))
}

func (e *encoder) u32(field string, v Opt[int64]) {
	n, ok := v.Get()
	switch {
	case e.err != nil:
	case !ok:
		e.err = newError(KindEncode, RuleEncodeUnset, field+" is unset")
	case n < 0 || n > math.MaxUint32:
		e.err = newError(KindEncode, RuleEncodeRange, fmt.Sprintf("%s: %d does not fit in an unsigned 32-bit field", field, n))
	}
	e.buf = endian.AppendUint32(e.buf, uint32(n))
}

func (e *encoder) flag(field string, v Opt[bool]) {
	b, ok := v.Get()
	if !ok && e.err == nil {
		e.err = newError(KindEncode, RuleEncodeUnset, field+" is unset")
	}
	var w uint32
	if b {
		w = 1
	}
	e.buf = endian.AppendUint32(e.buf, w)
}

func (e *encoder) name(field string, v Opt[string]) {
	s, ok := v.Get()
	switch {
	case e.err != nil:
	case !ok:
		e.err = newError(KindEncode, RuleEncodeUnset, field+" is unset")
	case uint64(len(s)) > math.MaxUint32:
		e.err = newError(KindEncode, RuleEncodeRange, field+" is too long")
	}
	e.buf = endian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
	for i := 0; i < padding(len(s)); i++ {
		e.buf = append(e.buf, 0)
	}
}

// padding returns the number of zero bytes that align n to 4.
func padding(n int) int {
	return (4 - n%4) % 4
}
