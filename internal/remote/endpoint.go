// Package remote wires the control and data planes together behind the
// same ExecuteRemotePush/ExecuteRemotePull/ExecuteRemoteRemote entry
// points the orchestrator uses for a local transfer: enumeration and
// planning stay local to whichever side drives them, and only the
// resulting manifest, NeedList and payload bytes cross the wire.
package remote

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the daemon's well-known control-plane listening port.
// The endpoint string grammar carries no port of its own.
const DefaultPort = 9031

// Endpoint names a remote blit daemon: the host it listens on, the
// module it serves (empty selects the daemon's default root), and an
// optional subpath within that module. Port is not part of the
// endpoint string grammar — ParseEndpoint always fills it with
// DefaultPort — but callers that dial a daemon bound to a non-standard
// port (tests, chiefly) may set it directly.
type Endpoint struct {
	Host    string
	Port    int
	Module  string
	SubPath string
}

// ParseEndpoint parses an endpoint string in one of three forms:
//   - "host:/module/subpath" — explicit module, optional subpath
//   - "host://subpath"       — default root, optional subpath
//   - "host"                 — bare host, default root, no subpath
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		host := s
		if host == "" {
			return Endpoint{}, fmt.Errorf("remote: endpoint %q has an empty host", s)
		}
		return Endpoint{Host: host, Port: DefaultPort}, nil
	}

	host, rest := s[:idx], s[idx+1:]
	if host == "" {
		return Endpoint{}, fmt.Errorf("remote: endpoint %q has an empty host", s)
	}

	switch {
	case strings.HasPrefix(rest, "//"):
		return Endpoint{Host: host, Port: DefaultPort, SubPath: rest[2:]}, nil
	case strings.HasPrefix(rest, "/"):
		modulePath := rest[1:]
		module := modulePath
		subPath := ""
		if slash := strings.IndexByte(modulePath, '/'); slash >= 0 {
			module = modulePath[:slash]
			subPath = modulePath[slash+1:]
		}
		if module == "" {
			return Endpoint{}, fmt.Errorf("remote: endpoint %q has an empty module", s)
		}
		return Endpoint{Host: host, Port: DefaultPort, Module: module, SubPath: subPath}, nil
	default:
		return Endpoint{}, fmt.Errorf("remote: endpoint %q must be host, host://subpath, or host:/module/subpath", s)
	}
}

// Address returns the host:port dial string for this endpoint's control
// plane. A zero Port (an Endpoint built by hand rather than by
// ParseEndpoint) falls back to DefaultPort.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// String reproduces the endpoint's canonical parsed form.
func (e Endpoint) String() string {
	switch {
	case e.Module == "" && e.SubPath == "":
		return e.Host
	case e.Module == "":
		return fmt.Sprintf("%s://%s", e.Host, e.SubPath)
	case e.SubPath == "":
		return fmt.Sprintf("%s:/%s", e.Host, e.Module)
	default:
		return fmt.Sprintf("%s:/%s/%s", e.Host, e.Module, e.SubPath)
	}
}
