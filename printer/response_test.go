package printer

import "testing"

func TestClassifyOrder(t *testing.T) {
	cases := []struct {
		line string
		want ResponseKind
	}{
		{"start", KindFirmwareReboot},
		{"start\r", KindFirmwareReboot},
		{"Resend:17", KindResendRequest},
		{"ok", KindOk},
		{"ok T:200.1 /200.0 B:60.0 /60.0", KindOk},
		{"wait", KindWait},
		{"Error:checksum mismatch", KindError},
		{"!! endstop hit", KindError},
		{"echo:busy: processing", KindInfo},
	}
	for _, c := range cases {
		got := Classify(c.line).Kind
		if got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestClassifyResendLineNumber(t *testing.T) {
	p := Classify("Resend: 42")
	if p.Kind != KindResendRequest {
		t.Fatalf("expected KindResendRequest, got %v", p.Kind)
	}
	if p.Line != 42 {
		t.Errorf("expected line 42, got %d", p.Line)
	}
}

func TestExtractBoundedOnRepeatedNonMatchingOccurrences(t *testing.T) {
	// None of these occurrences start the string or follow a space, so
	// extract must give up rather than loop forever retrying them.
	line := "XResend:Resend:Resend:5"
	if _, ok := extract(line, "Resend:"); ok {
		t.Fatal("expected no match: no occurrence is space-preceded")
	}
}

func TestExtractFindsSpacePrecededToken(t *testing.T) {
	v, ok := extract("ok T:200.5 B:60.0", "T:")
	if !ok || v != "200.5" {
		t.Fatalf("expected T: value 200.5, got %q ok=%v", v, ok)
	}
}

func TestExtractNoMatchTerminates(t *testing.T) {
	_, ok := extract("nothing to see here", "Resend:")
	if ok {
		t.Fatal("expected no match")
	}
}
