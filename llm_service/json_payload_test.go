package llm_service

import "testing"

func TestRecoverJSON(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		ok       bool
	}{
		{
			name:     "Whole body is JSON",
			raw:      `{"entities": []}`,
			expected: `{"entities": []}`,
			ok:       true,
		},
		{
			name:     "JSON tagged fence inside prose",
			raw:      "Here is the result:\n```json\n{\"a\": 1}\n```\nDone.",
			expected: `{"a": 1}`,
			ok:       true,
		},
		{
			name:     "Untagged fence",
			raw:      "Result:\n```\n[1, 2, 3]\n```",
			expected: `[1, 2, 3]`,
			ok:       true,
		},
		{
			name: "Whole body preferred over fence",
			raw:  `{"whole": true}`,
			expected: `{"whole": true}`,
			ok:   true,
		},
		{
			name: "Tagged fence preferred over untagged when body is prose",
			raw:  "intro\n```\nnot json\n```\nand\n```json\n{\"b\": 2}\n```",
			expected: `{"b": 2}`,
			ok:   true,
		},
		{
			name: "No JSON anywhere",
			raw:  "The document mentions no structured entities.",
			ok:   false,
		},
		{
			name: "Empty response",
			raw:  "",
			ok:   false,
		},
		{
			name: "Unterminated fence",
			raw:  "```json\n{\"a\": 1}",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, ok := RecoverJSON(tt.raw)
			if ok != tt.ok {
				t.Fatalf("RecoverJSON ok = %v, want %v", ok, tt.ok)
			}
			if tt.ok && string(payload) != tt.expected {
				t.Errorf("RecoverJSON payload = %q, want %q", payload, tt.expected)
			}
		})
	}
}
