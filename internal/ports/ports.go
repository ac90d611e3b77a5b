package ports

import (
	"fmt"
	"net"

	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Owner describes the process holding a listening port.
type Owner struct {
	PID  int32
	Name string
}

func (o Owner) String() string {
	if o.Name == "" {
		return fmt.Sprintf("PID %d", o.PID)
	}
	return fmt.Sprintf("%s (PID %d)", o.Name, o.PID)
}

// IsPortAvailable checks if a port is available for binding
func IsPortAvailable(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// FindAvailablePort finds the next available port starting from the given port
func FindAvailablePort(startPort int) int {
	maxAttempts := 100 // Don't search forever
	for i := 0; i < maxAttempts; i++ {
		port := startPort + i
		if port > 65535 {
			break
		}
		if IsPortAvailable(port) {
			return port
		}
	}
	return 0 // No available port found
}

// ProcessOnPort returns the process listening on the given TCP port.
// The second result is false if nothing listens there or the lookup is not
// permitted.
func ProcessOnPort(port int) (Owner, bool) {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		return Owner{}, false
	}

	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid == 0 {
			continue
		}
		owner := Owner{PID: c.Pid}
		if p, err := process.NewProcess(c.Pid); err == nil {
			owner.Name, _ = p.Name()
		}
		return owner, true
	}
	return Owner{}, false
}

// Resolve returns port when it is free. Otherwise, with shift enabled, the
// next free port above it is returned; without shift an error names the owner.
func Resolve(port int, shift bool) (int, bool, error) {
	if port == 0 || IsPortAvailable(port) {
		return port, false, nil
	}

	if !shift {
		if owner, ok := ProcessOnPort(port); ok {
			return 0, false, fmt.Errorf("port %d is in use by %s", port, owner)
		}
		return 0, false, fmt.Errorf("port %d is in use", port)
	}

	next := FindAvailablePort(port + 1)
	if next == 0 {
		return 0, false, fmt.Errorf("could not find an available port after %d", port)
	}
	return next, true, nil
}
