package manifest

import "fmt"

// MemoryPageSize is the granularity every memory budget must respect.
const MemoryPageSize = 4096

// ParseMemorySize validates a heap or stack budget: it must be a strictly
// positive multiple of MemoryPageSize. There is no upper bound here; the
// encoder rejects values its 32-bit field cannot hold.
func ParseMemorySize(key string, size Opt[int64], log *Log) Opt[int64] {
	v, ok := size.Get()
	if !ok {
		return None[int64]()
	}
	if v <= 0 || v%MemoryPageSize != 0 {
		log.Errorf(RuleMemorySize, "%s: %d, minimum memory size should be a positive multiple of %d", key, v, MemoryPageSize)
		return None[int64]()
	}
	return Some(v)
}

// ParseMemMap validates a list of memory-mapped I/O regions.
//
// The result has one entry per input element, in input order. Elements that
// are not mappings, or that fail field validation, still produce an entry
// with the offending fields unset; check log to learn whether the list is
// valid.
func ParseMemMap(entries []any, log *Log) []MemMapEntry {
	out := make([]MemMapEntry, 0, len(entries))
	for i, raw := range entries {
		scope := fmt.Sprintf("%s[%d]", KeyMemMap, i)
		m := CoerceMap(KeyMemMap, scope, raw, log)
		if !m.Set {
			out = append(out, MemMapEntry{})
			continue
		}
		f := NewFields(scope, m.Val, log)
		entry := MemMapEntry{
			ID:   f.Int(KeyMemMapID),
			Addr: f.Int(KeyMemMapAddr),
			Size: f.Int(KeyMemMapSize),
		}
		f.CheckUnknown()
		out = append(out, entry)
	}
	return out
}

// ParseLifecycleFlags validates the mgmt_flags record. Both flags are
// required; a missing or invalid flag is recorded in log and left unset in
// the result, which is always returned.
func ParseLifecycleFlags(values map[string]any, log *Log) LifecycleFlags {
	f := NewFields(KeyMgmtFlags, values, log)
	flags := LifecycleFlags{
		RestartOnExit: f.Bool(KeyRestartOnExit),
		DeferredStart: f.Bool(KeyDeferredStart),
	}
	f.CheckUnknown()
	return flags
}

// ParseServicePorts validates the start_ports list. Order is preserved and,
// as with ParseMemMap, invalid elements yield entries with unset fields.
func ParseServicePorts(entries []any, log *Log) []ServicePort {
	out := make([]ServicePort, 0, len(entries))
	for i, raw := range entries {
		scope := fmt.Sprintf("%s[%d]", KeyStartPorts, i)
		m := CoerceMap(KeyStartPorts, scope, raw, log)
		if !m.Set {
			out = append(out, ServicePort{})
			continue
		}
		f := NewFields(scope, m.Val, log)
		port := ServicePort{Name: f.String(KeyPortName)}
		if flags, ok := f.Map(KeyPortFlags).Get(); ok {
			port.Flags = Some(parsePortFlags(scope+"."+KeyPortFlags, flags, log))
		}
		f.CheckUnknown()
		out = append(out, port)
	}
	return out
}

func parsePortFlags(scope string, values map[string]any, log *Log) PortAccessFlags {
	f := NewFields(scope, values, log)
	flags := PortAccessFlags{
		AllowTAConnect: f.Bool(KeyAllowTAConnect),
		AllowNSConnect: f.Bool(KeyAllowNSConnect),
	}
	f.CheckUnknown()
	return flags
}
