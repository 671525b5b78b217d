package procscan

import "testing"

func TestParseEnvironContent(t *testing.T) {
	blob := "ARCAN_SHMIF_FD=3\x00HOME=/home/user\x00PATH=/usr/bin\x00"
	env := ParseEnvironContent(blob)
	if env["ARCAN_SHMIF_FD"] != "3" {
		t.Fatalf("ARCAN_SHMIF_FD = %q, want 3", env["ARCAN_SHMIF_FD"])
	}
	if env["HOME"] != "/home/user" {
		t.Fatalf("HOME = %q, want /home/user", env["HOME"])
	}
	if len(env) != 3 {
		t.Fatalf("len(env) = %d, want 3", len(env))
	}
}

func TestParseEnvironContentEmpty(t *testing.T) {
	if env := ParseEnvironContent(""); len(env) != 0 {
		t.Fatalf("expected empty map, got %v", env)
	}
}

func TestLooksLikeFrameserver(t *testing.T) {
	cases := []struct {
		blob string
		want bool
	}{
		{"ARCAN_SHMIF_FD=3\x00HOME=/x\x00", true},
		{"ARCAN_CONNPATH=mykey\x00", true},
		{"HOME=/x\x00PATH=/usr/bin\x00", false},
		{"", false},
	}
	for _, c := range cases {
		if got := looksLikeFrameserver(c.blob); got != c.want {
			t.Errorf("looksLikeFrameserver(%q) = %v, want %v", c.blob, got, c.want)
		}
	}
}

func TestClassifyArchetype(t *testing.T) {
	cases := []struct {
		comm, want string
	}{
		{"afsrv_decode", "media"},
		{"/usr/bin/afsrv_terminal", "terminal"},
		{"retroarch", "game"},
		{"xarcan", "remoting"},
		{"bash", "unknown"},
		{"", "unknown"},
	}
	for _, c := range cases {
		if got := ClassifyArchetype(c.comm); got != c.want {
			t.Errorf("ClassifyArchetype(%q) = %q, want %q", c.comm, got, c.want)
		}
	}
}
