package manifest

import (
	"strings"
	"testing"
)

func TestCheckRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{"heap and stack", map[string]any{
			"uuid":      "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"min_heap":  8192,
			"min_stack": 4096,
		}},
		{"explicit default flags", map[string]any{
			"uuid":       "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"min_heap":   8192,
			"min_stack":  4096,
			"mgmt_flags": map[string]any{"restart_on_exit": false, "deferred_start": false},
		}},
		{"restart on exit", map[string]any{
			"uuid":       "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"mgmt_flags": map[string]any{"restart_on_exit": true, "deferred_start": false},
		}},
		{"deferred start", map[string]any{
			"uuid":       "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"mgmt_flags": map[string]any{"restart_on_exit": false, "deferred_start": true},
		}},
		{"mem maps with string and native integers", map[string]any{
			"uuid":     "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"min_heap": "0x2000",
			"mem_map": []any{
				map[string]any{"id": 1, "addr": "0x70000000", "size": "0x1000"},
				map[string]any{"id": "2", "addr": 0x70010000, "size": 4096},
				map[string]any{"id": 3, "addr": "0x0", "size": "0x10000"},
			},
		}},
		{"start ports", map[string]any{
			"uuid": "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"start_ports": []any{
				map[string]any{
					"name":  "com.android.trusty.appmgmt.loadable.start",
					"flags": map[string]any{"allow_ta_connect": true, "allow_ns_connect": false},
				},
				map[string]any{
					"name":  "com.android.trusty.appmgmt.portstartsrv.shutdown",
					"flags": map[string]any{"allow_ta_connect": true, "allow_ns_connect": true},
				},
			},
		}},
		{"empty lists", map[string]any{
			"uuid":        "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
			"mem_map":     []any{},
			"start_ports": []any{},
		}},
		{"uppercase uuid", map[string]any{
			"uuid":     "5F902ACE-5E5C-4CD8-AE54-87B88C22DDAF",
			"min_heap": 8192,
		}},
		{"everything", validConfig()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := CheckRoundTrip(tc.config); err != nil {
				t.Fatalf("CheckRoundTrip: %v", err)
			}
		})
	}
}

func TestCheckRoundTripReportsValidationErrors(t *testing.T) {
	err := CheckRoundTrip(map[string]any{"uuid": "bad", "min_heap": 1})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "invalid UUID") || !strings.Contains(msg, "min_heap") {
		t.Fatalf("joined error should mention every defect: %q", msg)
	}
}

func TestCompileReturnsEveryError(t *testing.T) {
	var log Log
	_, err := Compile(map[string]any{
		"uuid":      "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf",
		"min_heap":  1,
		"min_stack": 2,
		"extra":     true,
	}, &log)
	if err == nil {
		t.Fatalf("expected error")
	}
	if log.Count() != 3 {
		t.Fatalf("expected three errors, got %v", log.Messages())
	}
	if RuleID(err) != RuleMemorySize {
		t.Fatalf("errors.As should find the first error, got %q", RuleID(err))
	}
}
