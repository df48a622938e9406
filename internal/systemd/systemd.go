// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd implements the parts of the sd_notify protocol a
// long-running bot needs: readiness, stopping and watchdog pings.
//
// Environment is read through [cli.GetEnv], so callers and tests control
// NOTIFY_SOCKET and WATCHDOG_USEC via the context.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.backpr.com/webtomed/internal/cli"
	"go.backpr.com/webtomed/internal/logger"
)

// State is a sd_notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Notify sends state to the service manager. It does nothing when
// NOTIFY_SOCKET is unset, and only logs failures.
func Notify(ctx context.Context, state State) {
	socket := cli.GetEnv(ctx).Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return
	}
	if err := send(socket, state); err != nil {
		logger.Get(ctx).Warn("systemd notify failed", "state", string(state), "err", err)
	}
}

func send(socket string, state State) error {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: socket})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(state))
	return err
}

// WatchdogLoop pings the watchdog at half of WATCHDOG_USEC until ctx is
// done. It returns immediately if the watchdog is not enabled.
func WatchdogLoop(ctx context.Context) {
	s := cli.GetEnv(ctx).Getenv("WATCHDOG_USEC")
	if s == "" {
		return
	}
	interval, err := watchdogInterval(s)
	if err != nil {
		logger.Get(ctx).Warn("systemd watchdog disabled", "err", err)
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			Notify(ctx, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval(s string) (time.Duration, error) {
	usec, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("systemd: parsing WATCHDOG_USEC: %w", err)
	}
	if usec <= 0 {
		return 0, errors.New("systemd: WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(usec) * time.Microsecond, nil
}
