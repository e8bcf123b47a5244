package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "cftrack/pkg/logx"
)

// sdNotify is swapped in tests.
var sdNotify = daemon.SdNotify

// notifySystemd reports state to the service manager. Outside systemd
// (no NOTIFY_SOCKET) it does nothing.
func notifySystemd(log logx.Logger, state string) {
	sent, err := sdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
