package wire

import "testing"

func TestTruncatePreservesUTF8(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
	}{
		{"ascii under cap", "hello", 10},
		{"ascii exact cap", "hello", 5},
		{"ascii over cap", "hello world", 5},
		{"multibyte boundary", "café", 4}, // 'é' is 2 bytes; cap lands mid-rune
		{"multibyte boundary 2", "日本語", 4},
		{"empty", "", 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Truncate(c.in, c.n)
			if len(got) > c.n {
				t.Fatalf("Truncate(%q, %d) = %q, len %d > cap", c.in, c.n, got, len(got))
			}
			if !utf8Valid(got) {
				t.Fatalf("Truncate(%q, %d) = %q is not valid UTF-8", c.in, c.n, got)
			}
		})
	}
}

func utf8Valid(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestMessageRoundTrip(t *testing.T) {
	r := EncodeMessage("hello frameserver")
	got, err := DecodeMessage(r)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello frameserver" {
		t.Fatalf("got %q", got)
	}
}

func TestMessageTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	r := EncodeMessage(long)
	got, err := DecodeMessage(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) >= messageCap {
		t.Fatalf("expected truncation below cap %d, got len %d", messageCap, len(got))
	}
}

func TestDecodeWrongKindFails(t *testing.T) {
	r := EncodeMessage("x")
	if _, _, err := DecodeRegister(r); err == nil {
		t.Fatal("expected error decoding Message record as Register")
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	r := EncodeRegister(ArchetypeGame, "snes9x")
	arch, title, err := DecodeRegister(r)
	if err != nil {
		t.Fatal(err)
	}
	if arch != ArchetypeGame || title != "snes9x" {
		t.Fatalf("got %v %q", arch, title)
	}
}

func TestSegmentRequestRoundTrip(t *testing.T) {
	req := SegmentRequest{Kind: SegKindClipboard, W: 640, H: 480, Tag: 42}
	r := EncodeSegmentRequest(req)
	got, err := DecodeSegmentRequest(r)
	if err != nil {
		t.Fatal(err)
	}
	if got != req {
		t.Fatalf("got %+v want %+v", got, req)
	}
}

func TestNewSegmentRoundTrip(t *testing.T) {
	ns := NewSegment{Tag: 7, Key: "abcd1234"}
	r := EncodeNewSegment(ns)
	got, err := DecodeNewSegment(r)
	if err != nil {
		t.Fatal(err)
	}
	if got != ns {
		t.Fatalf("got %+v want %+v", got, ns)
	}
}

func TestDigitalRoundTrip(t *testing.T) {
	d := Digital{Device: 1, Subid: 2, Active: true}
	got, err := DecodeDigital(EncodeDigital(d))
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Fatalf("got %+v want %+v", got, d)
	}
}

func TestAnalogRoundTrip(t *testing.T) {
	a := Analog{Device: 3, Subid: 0, Relative: true, Samples: [4]int16{-100, 200, 0, 32767}, NSamples: 4}
	got, err := DecodeAnalog(EncodeAnalog(a))
	if err != nil {
		t.Fatal(err)
	}
	if got != a {
		t.Fatalf("got %+v want %+v", got, a)
	}
}

func TestTranslatedRoundTrip(t *testing.T) {
	tr := Translated{Device: 1, Subid: 0, Keysym: 97, Modifier: 0, Scancode: 30, UTF8: "a"}
	got, err := DecodeTranslated(EncodeTranslated(tr))
	if err != nil {
		t.Fatal(err)
	}
	if got != tr {
		t.Fatalf("got %+v want %+v", got, tr)
	}
}

func TestRecordSizeFixed(t *testing.T) {
	var r Record
	if len(r.Payload) != PayloadSize {
		t.Fatalf("payload size drifted: %d != %d", len(r.Payload), PayloadSize)
	}
}
