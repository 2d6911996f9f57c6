// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collector

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
)

// Snapshot is the read-only view the status API serves. A new one is published after every
// pass and never modified afterwards.
type Snapshot struct {
	UpdatedAt time.Time      `json:"updatedAt"`
	Devices   []DeviceStatus `json:"devices"`
	Sessions  []SessionView  `json:"sessions"`
	Flights   FlightSummary  `json:"flights"`
}

// DeviceStatus is one registered device.
type DeviceStatus struct {
	Name    string                  `json:"name"`
	Profile *protocol.DeviceProfile `json:"profile,omitempty"`
}

// SessionView is an open session.
type SessionView struct {
	SessionKey
	Anchor time.Time `json:"anchor"`
	Status string    `json:"status"`
}

func (c *Collector) publish(devices []string) {
	known := c.profiles.cached()

	snap := &Snapshot{
		UpdatedAt: c.clock.Now(),
		Devices:   make([]DeviceStatus, 0, len(devices)),
		Flights:   c.flights.summary(),
	}

	for _, name := range slices.Sorted(slices.Values(devices)) {
		status := DeviceStatus{Name: name}

		if p, ok := known[name]; ok {
			// The cached profile shares its tag slice with the cache.
			var clone protocol.DeviceProfile
			if err := deepcopy.Copy(&clone, &p); err != nil {
				c.log.Warnf("Failed to copy profile of %s: %v", name, err)
			} else {
				status.Profile = &clone
			}
		}

		snap.Devices = append(snap.Devices, status)
	}

	sessions := c.arena.snapshot()
	snap.Sessions = make([]SessionView, 0, len(sessions))

	for _, s := range sessions {
		snap.Sessions = append(snap.Sessions, SessionView{SessionKey: s.SessionKey, Anchor: s.Anchor, Status: s.Status.String()})
	}

	c.snapshot.Store(snap)
}

// Handler returns the status API: GET /api/v1/devices, /api/v1/sessions and /api/v1/flights.
func (c *Collector) Handler(log *zap.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if log != nil {
		router.Use(ginzap.Ginzap(log, time.RFC3339, true))
		router.Use(ginzap.RecoveryWithZap(log, true))
	} else {
		router.Use(gin.Recovery())
	}

	router.Use(gzip.Gzip(gzip.DefaultCompression))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/devices", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, c.Snapshot().Devices)
		})
		v1.GET("/sessions", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, c.Snapshot().Sessions)
		})
		v1.GET("/flights", func(ctx *gin.Context) {
			snap := c.Snapshot()
			ctx.JSON(http.StatusOK, gin.H{"updatedAt": snap.UpdatedAt, "flights": snap.Flights})
		})
	}

	return router
}
