// Copyright 2024 The SMA Inverter Exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exporter

import (
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smainverter/sma-inverter-exporter/inverter"
	"github.com/smainverter/sma-inverter-exporter/metrics"
	"github.com/smainverter/sma-inverter-exporter/smaconfig"
	"github.com/smainverter/sma-inverter-exporter/smanet2"
	"github.com/smainverter/sma-inverter-exporter/transport"
)

// PollInterval is the time between poll ticks (spec §4.5).
const PollInterval = 10 * time.Second

// RediscoveryTicks is the number of poll ticks between rediscovery
// passes: 60 ticks at 10s each is the ~600s window spec §4.5 and §8
// scenario 6 require.
const RediscoveryTicks = 60

// gatherMu serializes metric writers (the poll worker) against the
// metrics HTTP handler's read of the whole registry, so a scrape never
// observes one device's gauges half updated from a single poll pass
// (spec §5).
var gatherMu sync.Mutex

// GatherGuard wraps h so every request holds gatherMu for its duration,
// matching the writer side's per-pass locking in Worker.pollOne.
func GatherGuard(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatherMu.Lock()
		defer gatherMu.Unlock()
		h.ServeHTTP(w, r)
	})
}

// Worker owns all protocol I/O for every known inverter from a single
// goroutine, per spec §5: there is no intra-device pipelining and no
// concurrent access to a session from more than one goroutine.
type Worker struct {
	cfg      *smaconfig.Config
	sessions map[string]*inverter.Session
	tr       *transport.Transport
	ticks    int
}

// NewWorker constructs a Worker with no open transport; Run opens one
// on its first rediscovery pass.
func NewWorker(cfg *smaconfig.Config) *Worker {
	return &Worker{cfg: cfg, sessions: make(map[string]*inverter.Session)}
}

// Run blocks forever, alternating poll ticks with periodic rediscovery.
// It returns only when the transport cannot be opened for a discovery
// pass, with that error; per-device errors are logged and the device is
// simply skipped until it reappears.
func (w *Worker) Run() error {
	if err := w.openAndDiscover(); err != nil {
		return err
	}
	defer w.closeTransport()

	for {
		time.Sleep(PollInterval)
		if w.ticks >= RediscoveryTicks {
			log.Info("rediscovery tick: logging off all sessions and rescanning")
			w.logoffAll()
			w.closeTransport()
			if err := w.openAndDiscover(); err != nil {
				return err
			}
			w.ticks = 0
		}
		w.runPollTick()
		w.ticks++
	}
}

func (w *Worker) openAndDiscover() error {
	tr, err := transport.Open(true)
	if err != nil {
		return err
	}
	w.tr = tr

	addrs, err := inverter.Discover(tr)
	if err != nil {
		log.Warnf("discovery failed: %v", err)
		return nil
	}
	local := inverter.NewLocalAddress()
	for _, addr := range addrs {
		if _, ok := w.sessions[addr.String()]; ok {
			continue
		}
		password := w.cfg.Password(addr.String())
		session, err := inverter.Login(w.tr, addr, local, password, smanet2.ClassUser)
		if err != nil {
			log.Warnf("login to %s failed: %v", addr, err)
			metrics.PollErrors.WithLabelValues(addr.String(), "login").Inc()
			continue
		}
		w.sessions[addr.String()] = session
	}
	return nil
}

func (w *Worker) closeTransport() {
	if w.tr == nil {
		return
	}
	if err := w.tr.Close(); err != nil {
		log.Warnf("closing transport: %v", err)
	}
	w.tr = nil
}

func (w *Worker) logoffAll() {
	for addr, session := range w.sessions {
		if err := session.Logoff(); err != nil {
			log.Debugf("logoff %s: %v", addr, err)
		}
	}
	w.sessions = make(map[string]*inverter.Session)
}

func (w *Worker) runPollTick() {
	for addr, session := range w.sessions {
		w.pollOne(addr, session)
	}
}

// pollOne runs the four required polls against one device and publishes
// whatever succeeds, holding gatherMu for the whole pass so a
// concurrent scrape can never see a half-updated device (spec §5).
func (w *Worker) pollOne(addr string, session *inverter.Session) {
	gatherMu.Lock()
	defer gatherMu.Unlock()

	if battery, err := session.BatteryInfo(); err != nil {
		w.reportPollError(addr, "battery_info", err)
	} else {
		metrics.SetBatteryInfo(battery)
	}

	if dc, err := session.DCVoltage(); err != nil {
		w.reportPollError(addr, "dc_voltage", err)
	} else {
		metrics.SetDCVoltage(dc)
	}

	if soc, err := session.BatteryChargeStatus(); err != nil {
		w.reportPollError(addr, "battery_charge_status", err)
	} else {
		metrics.SetBatteryChargeStatus(soc)
	}

	if energy, err := session.EnergyProduction(); err != nil {
		w.reportPollError(addr, "energy_production", err)
	} else {
		metrics.SetEnergyProduction(addr, energy)
	}
}

func (w *Worker) reportPollError(addr, command string, err error) {
	metrics.PollErrors.WithLabelValues(addr, command).Inc()
	switch err {
	case inverter.ErrUnsupported:
		log.Debugf("%s: %s not supported by device", addr, command)
	case inverter.ErrTimeout:
		log.Debugf("%s: %s timed out", addr, command)
	default:
		log.Warnf("%s: %s failed: %v", addr, command, err)
	}
}
