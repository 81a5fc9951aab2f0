// Package apply pushes rendered gateway configuration to the live VPN
// interface through the external awg control utility.
package apply

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Applier pushes a full rendered gateway configuration to the live
// interface. Implementations are synchronous; every call is a full-state
// push, never an incremental diff.
type Applier interface {
	Apply(ctx context.Context, config string) error
}

// DefaultTimeout bounds a single setconf invocation. A hung control command
// surfaces as an apply error instead of wedging the request.
const DefaultTimeout = 15 * time.Second

// Command invokes `<binary> setconf <interface> <path>` after writing the
// rendered configuration to <dataDir>/<interface>.conf.
type Command struct {
	DataDir   string
	Interface string
	Binary    string // control utility, e.g. "awg"
	Timeout   time.Duration
}

// NewCommand returns a Command applier with defaults filled in.
func NewCommand(dataDir, iface, binary string, timeout time.Duration) *Command {
	if binary == "" {
		binary = "awg"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Command{DataDir: dataDir, Interface: iface, Binary: binary, Timeout: timeout}
}

// Apply writes the configuration to the well-known path and runs the
// control command against the live interface, surfacing its exit status and
// stderr as the error.
func (a *Command) Apply(ctx context.Context, config string) error {
	confPath := filepath.Join(a.DataDir, a.Interface+".conf")
	if err := os.WriteFile(confPath, []byte(config), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", confPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.Binary, "setconf", a.Interface, confPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%s setconf %s: %w: %s", a.Binary, a.Interface, err, msg)
		}
		return fmt.Errorf("%s setconf %s: %w", a.Binary, a.Interface, err)
	}

	log.Debug().Str("interface", a.Interface).Msg("gateway configuration applied")
	return nil
}
