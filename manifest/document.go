package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the decoded form of a packed manifest. Its JSON form uses the
// same keys as the configuration it was compiled from.
type Document struct {
	UUID       string         `json:"uuid"`
	MinHeap    *uint32        `json:"min_heap,omitempty"`
	MinStack   *uint32        `json:"min_stack,omitempty"`
	MemMap     []DocMemMap    `json:"mem_map,omitempty"`
	MgmtFlags  *DocMgmtFlags  `json:"mgmt_flags,omitempty"`
	StartPorts []DocStartPort `json:"start_ports,omitempty"`
}

// DocMemMap is a decoded memory map record.
type DocMemMap struct {
	ID   uint32 `json:"id"`
	Addr uint32 `json:"addr"`
	Size uint32 `json:"size"`
}

// DocMgmtFlags is a decoded lifecycle flags record.
type DocMgmtFlags struct {
	RestartOnExit bool `json:"restart_on_exit"`
	DeferredStart bool `json:"deferred_start"`
}

// DocPortFlags is a decoded start port access record.
type DocPortFlags struct {
	AllowTAConnect bool `json:"allow_ta_connect"`
	AllowNSConnect bool `json:"allow_ns_connect"`
}

// DocStartPort is a decoded start port record.
type DocStartPort struct {
	Name  string       `json:"name"`
	Flags DocPortFlags `json:"flags"`
}

// Map returns the canonical key/value form of the document: the shape of
// the configuration it was compiled from, with mem_map addresses and sizes
// rendered as lowercase 0x hex strings. Absent records are absent keys.
func (d *Document) Map() map[string]any {
	out := map[string]any{KeyUUID: d.UUID}
	if d.MinHeap != nil {
		out[KeyMinHeap] = int64(*d.MinHeap)
	}
	if d.MinStack != nil {
		out[KeyMinStack] = int64(*d.MinStack)
	}
	if len(d.MemMap) > 0 {
		entries := make([]any, 0, len(d.MemMap))
		for _, m := range d.MemMap {
			entries = append(entries, map[string]any{
				KeyMemMapID:   int64(m.ID),
				KeyMemMapAddr: hexString(m.Addr),
				KeyMemMapSize: hexString(m.Size),
			})
		}
		out[KeyMemMap] = entries
	}
	if d.MgmtFlags != nil {
		out[KeyMgmtFlags] = map[string]any{
			KeyRestartOnExit: d.MgmtFlags.RestartOnExit,
			KeyDeferredStart: d.MgmtFlags.DeferredStart,
		}
	}
	if len(d.StartPorts) > 0 {
		ports := make([]any, 0, len(d.StartPorts))
		for _, p := range d.StartPorts {
			ports = append(ports, map[string]any{
				KeyPortName: p.Name,
				KeyPortFlags: map[string]any{
					KeyAllowTAConnect: p.Flags.AllowTAConnect,
					KeyAllowNSConnect: p.Flags.AllowNSConnect,
				},
			})
		}
		out[KeyStartPorts] = ports
	}
	return out
}

func hexString(v uint32) string {
	return fmt.Sprintf("%#x", v)
}

// RenderJSON renders a key/value structure as JSON with sorted keys and
// four-space indentation, without HTML escaping and without a trailing
// newline. Equal structures always render to equal bytes, which makes the
// output suitable for comparing a decoded manifest with its source.
func RenderJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
