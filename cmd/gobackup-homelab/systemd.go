package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
)

// notifySystemd sends state to the service manager. It is a no-op when
// not started by systemd.
func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("systemd notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("systemd notified")
	}
}

// runWatchdog pings the systemd watchdog at half its interval until ctx is
// done. It returns immediately when the unit has no WatchdogSec.
func runWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn().Err(err).Msg("reading systemd watchdog settings")
		return
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notifySystemd(daemon.SdNotifyWatchdog)
		}
	}
}
