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
	"net/http/httptest"
	"testing"

	"github.com/smainverter/sma-inverter-exporter/smaconfig"
)

func TestNewWorkerStartsWithNoSessions(t *testing.T) {
	cfg := &smaconfig.Config{Passwords: map[string]string{}}
	w := NewWorker(cfg)
	if len(w.sessions) != 0 {
		t.Fatalf("expected no sessions on a fresh worker, got %d", len(w.sessions))
	}
	if w.ticks != 0 {
		t.Fatalf("expected tick counter to start at 0, got %d", w.ticks)
	}
}

func TestGatherGuardPassesThrough(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	GatherGuard(inner).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("GatherGuard did not invoke the wrapped handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRediscoveryTicksMatchesTenMinuteWindow(t *testing.T) {
	if RediscoveryTicks*PollInterval.Seconds() != 600 {
		t.Errorf("RediscoveryTicks*PollInterval = %v seconds, want 600", RediscoveryTicks*PollInterval.Seconds())
	}
}
