package ports

import (
	"net"
	"os"
	"strings"
	"testing"
)

func TestFindAvailablePort(t *testing.T) {
	// Let the system assign a port, then keep it busy.
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Failed to get a test port: %v", err)
	}
	defer ln.Close()

	blockedPort := ln.Addr().(*net.TCPAddr).Port

	got := FindAvailablePort(blockedPort)
	if got == blockedPort || got == 0 {
		t.Errorf("FindAvailablePort(%d) = %d; want a different free port", blockedPort, got)
	}
}

func TestResolve(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Failed to get a test port: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	t.Run("busy without shift", func(t *testing.T) {
		_, _, err := Resolve(busy, false)
		if err == nil || !strings.Contains(err.Error(), "in use") {
			t.Fatalf("Resolve(%d, false) error = %v; want in use", busy, err)
		}
	})

	t.Run("busy with shift", func(t *testing.T) {
		got, shifted, err := Resolve(busy, true)
		if err != nil {
			t.Fatalf("Resolve(%d, true) error = %v", busy, err)
		}
		if !shifted || got <= busy {
			t.Errorf("Resolve(%d, true) = %d, %v; want a higher shifted port", busy, got, shifted)
		}
	})

	t.Run("zero passes through", func(t *testing.T) {
		got, shifted, err := Resolve(0, false)
		if err != nil || shifted || got != 0 {
			t.Errorf("Resolve(0) = %d, %v, %v", got, shifted, err)
		}
	})
}

func TestProcessOnPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get a test port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	owner, ok := ProcessOnPort(port)
	if !ok {
		t.Skip("connection table not readable in this environment")
	}
	if int(owner.PID) != os.Getpid() {
		t.Errorf("ProcessOnPort(%d) pid = %d; want %d", port, owner.PID, os.Getpid())
	}
}
