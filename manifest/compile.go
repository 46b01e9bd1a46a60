package manifest

import (
	"bytes"
	"fmt"
)

// Compile validates config and packs it. On validation failure it returns
// log.Err(), which joins every recorded error.
func Compile(config map[string]any, log *Log) ([]byte, error) {
	d := ParseManifest(config, log)
	if d == nil {
		if err := log.Err(); err != nil {
			return nil, err
		}
		return nil, newError(KindValidation, RuleMissingAttribute, "manifest: no descriptor produced")
	}
	return Encode(d)
}

// CheckRoundTrip compiles config, decodes the result and compares it with
// config. The comparison allows for the two differences the format
// introduces: mem_map addresses and sizes come back as hex strings, and
// mgmt_flags comes back with defaults when config had none.
func CheckRoundTrip(config map[string]any) error {
	var log Log
	packed, err := Compile(config, &log)
	if err != nil {
		return err
	}
	doc, err := Decode(packed)
	if err != nil {
		return err
	}
	got, err := RenderJSON(doc.Map())
	if err != nil {
		return err
	}
	want, err := RenderJSON(expectedMap(config))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("round trip mismatch:\ndecoded:\n%s\nsource:\n%s", got, want)
	}
	return nil
}

// expectedMap rewrites a valid configuration into the form Decode produces.
// It is only meaningful for configurations that compile cleanly.
func expectedMap(config map[string]any) map[string]any {
	var log Log
	asInt := func(v any) any {
		if n, ok := CoerceInt("", "", v, &log).Get(); ok {
			return n
		}
		return v
	}
	asHex := func(v any) any {
		if n, ok := CoerceInt("", "", v, &log).Get(); ok && n >= 0 && n <= 1<<32-1 {
			return hexString(uint32(n))
		}
		return v
	}

	out := make(map[string]any, len(config)+1)
	for k, v := range config {
		out[k] = v
	}
	if s, ok := out[KeyUUID].(string); ok {
		if u, ok := ParseUUID(s, &log).Get(); ok {
			out[KeyUUID] = u.String()
		}
	}
	for _, k := range []string{KeyMinHeap, KeyMinStack} {
		if v, ok := out[k]; ok {
			out[k] = asInt(v)
		}
	}
	if entries, ok := out[KeyMemMap].([]any); ok {
		if len(entries) == 0 {
			delete(out, KeyMemMap)
		} else {
			rewritten := make([]any, 0, len(entries))
			for _, e := range entries {
				m, ok := e.(map[string]any)
				if !ok {
					rewritten = append(rewritten, e)
					continue
				}
				rewritten = append(rewritten, map[string]any{
					KeyMemMapID:   asInt(m[KeyMemMapID]),
					KeyMemMapAddr: asHex(m[KeyMemMapAddr]),
					KeyMemMapSize: asHex(m[KeyMemMapSize]),
				})
			}
			out[KeyMemMap] = rewritten
		}
	}
	if entries, ok := out[KeyStartPorts].([]any); ok && len(entries) == 0 {
		delete(out, KeyStartPorts)
	}
	if _, ok := out[KeyMgmtFlags]; !ok {
		out[KeyMgmtFlags] = map[string]any{
			KeyRestartOnExit: DefaultLifecycleFlags.RestartOnExit.Val,
			KeyDeferredStart: DefaultLifecycleFlags.DeferredStart.Val,
		}
	}
	return out
}
