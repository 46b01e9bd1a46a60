// Package manifest compiles trusted application manifests into the packed
// binary form read by the application loader, and decodes that form back
// for verification.
//
// The compile path aggregates errors: every field is checked and every
// problem is recorded in a Log before the compile fails. The decode path is
// strict and stops at the first malformed record.
//
// The typical flow:
//
//  1. ReadSource or ParseSource: JSON/JSONC/YAML text → map[string]any
//  2. ParseManifest: map → *Descriptor (nil if the Log holds errors)
//  3. Encode: *Descriptor → packed bytes
//  4. Decode: packed bytes → *Document, for inspection and round-trip checks
package manifest

// Configuration keys.
const (
	KeyUUID     = "uuid"
	KeyMinHeap  = "min_heap"
	KeyMinStack = "min_stack"

	KeyMemMap     = "mem_map"
	KeyMemMapID   = "id"
	KeyMemMapAddr = "addr"
	KeyMemMapSize = "size"

	KeyMgmtFlags     = "mgmt_flags"
	KeyRestartOnExit = "restart_on_exit"
	KeyDeferredStart = "deferred_start"

	KeyStartPorts     = "start_ports"
	KeyPortName       = "name"
	KeyPortFlags      = "flags"
	KeyAllowTAConnect = "allow_ta_connect"
	KeyAllowNSConnect = "allow_ns_connect"
)

// MemMapEntry is one memory-mapped I/O region.
type MemMapEntry struct {
	ID   Opt[int64]
	Addr Opt[int64]
	Size Opt[int64]
}

// LifecycleFlags controls how the loader manages the application.
type LifecycleFlags struct {
	RestartOnExit Opt[bool]
	DeferredStart Opt[bool]
}

// PortAccessFlags selects which callers may connect to a start port.
type PortAccessFlags struct {
	// AllowTAConnect admits other trusted applications.
	AllowTAConnect Opt[bool]
	// AllowNSConnect admits non-secure world clients.
	AllowNSConnect Opt[bool]
}

// ServicePort is a port that starts the application when first connected.
type ServicePort struct {
	Name  Opt[string]
	Flags Opt[PortAccessFlags]
}

// Descriptor is a fully validated manifest. It is built once by
// ParseManifest and not modified afterwards.
type Descriptor struct {
	UUID       UUID
	MinHeap    Opt[int64]
	MinStack   Opt[int64]
	MemMap     []MemMapEntry
	MgmtFlags  Opt[LifecycleFlags]
	StartPorts []ServicePort
}

// DefaultLifecycleFlags is applied when a configuration has no mgmt_flags.
var DefaultLifecycleFlags = LifecycleFlags{
	RestartOnExit: Some(false),
	DeferredStart: Some(false),
}

// ParseManifest validates config and assembles a Descriptor.
//
// Every extraction is attempted even after earlier ones fail, so log ends up
// holding every problem in the configuration. ParseManifest returns nil if
// log holds any error when it finishes, including errors recorded before the
// call. config is not modified.
func ParseManifest(config map[string]any, log *Log) *Descriptor {
	f := NewFields("manifest", config, log)

	var uuid Opt[UUID]
	if text, ok := f.String(KeyUUID).Get(); ok {
		uuid = ParseUUID(text, log)
	}

	minHeap := ParseMemorySize(KeyMinHeap, f.OptionalInt(KeyMinHeap, None[int64]()), log)
	minStack := ParseMemorySize(KeyMinStack, f.OptionalInt(KeyMinStack, None[int64]()), log)

	var memMap []MemMapEntry
	if entries, ok := f.OptionalList(KeyMemMap, Some([]any{})).Get(); ok {
		memMap = ParseMemMap(entries, log)
	}

	mgmtFlags := Some(DefaultLifecycleFlags)
	if f.Has(KeyMgmtFlags) {
		mgmtFlags = None[LifecycleFlags]()
		if values, ok := f.OptionalMap(KeyMgmtFlags, None[map[string]any]()).Get(); ok {
			mgmtFlags = Some(ParseLifecycleFlags(values, log))
		}
	}

	var startPorts []ServicePort
	if entries, ok := f.OptionalList(KeyStartPorts, Some([]any{})).Get(); ok {
		startPorts = ParseServicePorts(entries, log)
	}

	f.CheckUnknown()

	if log.ErrorOccurred() || !uuid.Set {
		return nil
	}
	return &Descriptor{
		UUID:       uuid.Val,
		MinHeap:    minHeap,
		MinStack:   minStack,
		MemMap:     memMap,
		MgmtFlags:  mgmtFlags,
		StartPorts: startPorts,
	}
}
