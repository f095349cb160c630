package motor

import "testing"

func TestCommandEncode(t *testing.T) {
	cases := []struct {
		name string
		arg  float64
		want string
	}{
		{"speed", 12.5, "VE12.5000"},
		{"acceleration", 25, "AC25.000"},
		{"deceleration", 25, "DE25.000"},
		{"target_distance", 787401.99, "DI787401"},
		{"target_distance", -1200.7, "DI-1200"},
		{"protocol", 13, "PR13"},
	}
	for _, tc := range cases {
		spec, ok := Command(tc.name)
		if !ok {
			t.Fatalf("unknown command %q", tc.name)
		}
		got := spec.Code + spec.Encode(tc.arg)
		if got != tc.want {
			t.Errorf("%s(%g) = %q, want %q", tc.name, tc.arg, got, tc.want)
		}
	}
}

func TestDecodeReply(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"get_position", "IP=-1200", "-1200"},
		{"get_position", "IP=0", "0"},
		{"request_status", "RS=FMP", "FMP"},
		{"alarm", "AL=0014", "0014"},
		{"gearing", "EG=20000", "20000"},
		{"speed", "VE=12.5000", "12.5000"},
	}
	for _, tc := range cases {
		spec, _ := Command(tc.name)
		got, err := decodeReply(spec, tc.raw)
		if err != nil {
			t.Errorf("%s: decode %q: %v", tc.name, tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: decode %q = %q, want %q", tc.name, tc.raw, got, tc.want)
		}
	}
}

func TestDecodeReplyMismatch(t *testing.T) {
	spec, _ := Command("gearing")
	if _, err := decodeReply(spec, "garbage"); err == nil {
		t.Error("expected error for non-matching reply")
	}
}

func TestClassifyReply(t *testing.T) {
	cases := []struct {
		raw  string
		kind replyKind
	}{
		{"%", replyAckExecuted},
		{"*", replyAckBuffered},
		{"?6", replyNack},
		{"EG=20000", replyValue},
	}
	for _, tc := range cases {
		kind, _ := classifyReply("test", tc.raw)
		if kind != tc.kind {
			t.Errorf("classifyReply(%q) = %d, want %d", tc.raw, kind, tc.kind)
		}
	}
}

func TestClassifyNackCodes(t *testing.T) {
	cases := []struct {
		raw     string
		code    int
		message string
	}{
		{"?6", 6, "command buffer (queue) full"},
		{"?5", 5, "parameters out of range"},
		// replies may carry the drive's address character
		{"3?5", 5, "parameters out of range"},
		{"?", 0, ""},
	}
	for _, tc := range cases {
		_, nack := classifyReply("test", tc.raw)
		if nack == nil {
			t.Fatalf("classifyReply(%q) returned no nack", tc.raw)
		}
		if nack.Code != tc.code || nack.Message != tc.message {
			t.Errorf("classifyReply(%q) = code %d %q, want %d %q",
				tc.raw, nack.Code, nack.Message, tc.code, tc.message)
		}
	}
}
