// Package systemd integrates with the service manager: socket activation
// for the metrics endpoint and readiness notifications.
package systemd

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listeners holds systemd-activated listeners.
type Listeners struct {
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves socket-activated file descriptors. Activated is
// false when not running under socket activation; that is the normal case
// outside a unit with a .socket file.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false)
	if len(fds) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	// Names come from FileDescriptorName= in the .socket unit.
	byName, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("get systemd listeners: %w", err)
	}
	if lns, ok := byName["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}
	return listeners, nil
}

// NotifyReady sends READY=1, telling systemd startup has finished. Not
// running under systemd is not an error.
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("sd_notify ready: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 ahead of shutdown.
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("sd_notify stopping: %w", err)
	}
	return nil
}
