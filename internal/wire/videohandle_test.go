package wire

import "testing"

func TestVideoHandleRoundTrip(t *testing.T) {
	meta := VideoHandleMeta{
		Width: 1920, Height: 1080, NPlanes: 2, HasFence: true,
		Planes: [MaxPlanes]PlaneMeta{
			{Fourcc: 0x3231564e, Stride: 1920, Offset: 0, Modifier: 0x0100000000000001},
			{Fourcc: 0x3231564e, Stride: 1920, Offset: 1920 * 1080, Modifier: 0x0100000000000001},
		},
	}
	got, err := DecodeVideoHandle(EncodeVideoHandle(meta))
	if err != nil {
		t.Fatal(err)
	}
	if got != meta {
		t.Fatalf("got %+v want %+v", got, meta)
	}
}

func TestDecodeVideoHandleWrongKind(t *testing.T) {
	if _, err := DecodeVideoHandle(EncodeMessage("x")); err == nil {
		t.Fatal("expected error decoding a Message record as a VideoHandle")
	}
}
