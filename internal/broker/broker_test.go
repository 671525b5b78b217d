package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		path      string
		wantClass Class
		wantOK    bool
	}{
		{"/dev/input/event3", ClassInput, true},
		{"/dev/dri/card0", ClassDRM, true},
		{"/dev/tty1", ClassTTY, true},
		{"/dev/sensor/accel0", ClassSensor, true},
		{"/etc/passwd", "", false},
		{"/dev/mem", "", false},
		{"/dev/input/../../../etc/shadow", "", false},
		{"/dev/input/./event3", "", false},
	}
	for _, c := range cases {
		class, ok := classify(DefaultWhitelist, c.path)
		if ok != c.wantOK || class != c.wantClass {
			t.Errorf("classify(%q) = (%q, %v), want (%q, %v)", c.path, class, ok, c.wantClass, c.wantOK)
		}
	}
}

func TestRequestDeviceRejectsNonWhitelistedPath(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "broker.sock")
	b, err := Listen(sockPath, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go b.Serve(ctx)

	time.Sleep(10 * time.Millisecond)
	_, _, err = RequestDevice(sockPath, "/etc/shadow")
	if err == nil {
		t.Fatal("expected an error opening a non-whitelisted path")
	}
}

func TestRequestDeviceRejectsTraversalPathUnderWhitelistedPrefix(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "broker3.sock")
	whitelist := []Rule{{Prefix: "/dev/input/", Class: ClassInput}}
	b, err := Listen(sockPath, whitelist)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go b.Serve(ctx)

	time.Sleep(10 * time.Millisecond)
	// This string prefix-matches "/dev/input/" but escapes it via "..".
	_, _, err = RequestDevice(sockPath, "/dev/input/../../../etc/shadow")
	if err == nil {
		t.Fatal("expected traversal path to be rejected even though it prefix-matches a whitelisted rule")
	}
}

func TestRequestDeviceRejectsNonCharacterDevice(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "broker4.sock")
	regularFile := filepath.Join(t.TempDir(), "not-a-device")
	if err := os.WriteFile(regularFile, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	whitelist := []Rule{{Prefix: regularFile, Class: ClassInput}}
	b, err := Listen(sockPath, whitelist)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go b.Serve(ctx)

	time.Sleep(10 * time.Millisecond)
	_, _, err = RequestDevice(sockPath, regularFile)
	if err == nil {
		t.Fatal("expected a regular file to be rejected as not a character device")
	}
}

func TestRequestDeviceOpensWhitelistedDevNull(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "broker2.sock")
	whitelist := []Rule{{Prefix: "/dev/null", Class: ClassInput}}
	b, err := Listen(sockPath, whitelist)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go b.Serve(ctx)

	time.Sleep(10 * time.Millisecond)
	fd, class, err := RequestDevice(sockPath, "/dev/null")
	if err != nil {
		t.Fatalf("RequestDevice: %v", err)
	}
	defer unix.Close(fd)
	if class != ClassInput {
		t.Fatalf("got class %q", class)
	}
	if fd < 0 {
		t.Fatal("expected a valid fd")
	}
}
