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
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// profiles caches device profiles read from application labels. A device profile is fixed
// after registration, the expiry only matters when a device is deleted and registered again.
type profiles struct {
	client onem2m.Client
	tree   onem2m.Tree
	cache  *cache.Cache
}

func newProfiles(client onem2m.Client, tree onem2m.Tree, ttl time.Duration) *profiles {
	return &profiles{client: client, tree: tree, cache: cache.New(ttl, 2*ttl)}
}

func (p *profiles) get(ctx context.Context, device string) (protocol.DeviceProfile, error) {
	if cached, ok := p.cache.Get(device); ok {
		return cached.(protocol.DeviceProfile), nil
	}

	app, err := p.client.Read(ctx, p.tree.App(device))
	if err != nil {
		return protocol.DeviceProfile{}, fmt.Errorf("reading application %s: %w", device, err)
	}

	// Labels do not change, so a broken profile stays broken until the device registers again.
	profile, err := protocol.ParseLabels(device, app.Labels)
	if err != nil {
		return protocol.DeviceProfile{}, standarderrors.NewRecoverableError(err)
	}

	p.cache.SetDefault(device, profile)

	return profile, nil
}

func (p *profiles) forget(device string) {
	p.cache.Delete(device)
}

// cached returns every cached profile. It is used for the status snapshot.
func (p *profiles) cached() map[string]protocol.DeviceProfile {
	items := p.cache.Items()
	out := make(map[string]protocol.DeviceProfile, len(items))

	for name, item := range items {
		if profile, ok := item.Object.(protocol.DeviceProfile); ok {
			out[name] = profile
		}
	}

	return out
}
