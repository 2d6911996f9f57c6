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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/beeker1121/goque"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
)

const outboxDirName = "outbox"

// outbox is a durable FIFO of sealed buffers that were not delivered yet. A buffer stays in
// the queue until the broker accepted it, so buffers survive a crash between sealing and sending.
type outbox struct {
	queue *goque.Queue
	log   *zap.SugaredLogger
}

func openOutbox(dir string, log *zap.SugaredLogger) (*outbox, error) {
	queue, err := goque.OpenQueue(filepath.Join(dir, outboxDirName))
	if err != nil {
		return nil, fmt.Errorf("opening outbox: %w", err)
	}

	return &outbox{queue: queue, log: log}, nil
}

func (o *outbox) push(buf protocol.DataBuffer) error {
	if _, err := o.queue.EnqueueObject(buf); err != nil {
		return fmt.Errorf("queueing buffer %s/%d: %w", buf.Device, buf.Index, err)
	}

	return nil
}

// flush sends queued buffers oldest first and stops at the first failure. It returns the
// number of buffers delivered.
func (o *outbox) flush(ctx context.Context, send func(context.Context, protocol.DataBuffer) error) (int, error) {
	sent := 0

	for {
		item, err := o.queue.Peek()
		if errors.Is(err, goque.ErrEmpty) {
			return sent, nil
		}

		if err != nil {
			return sent, fmt.Errorf("reading outbox: %w", err)
		}

		var buf protocol.DataBuffer
		if err := item.ToObject(&buf); err != nil {
			// An undecodable entry would block the queue forever.
			o.log.Errorf("Dropping undecodable outbox entry %d: %v", item.ID, err)

			if _, err := o.queue.Dequeue(); err != nil {
				return sent, fmt.Errorf("dropping outbox entry: %w", err)
			}

			continue
		}

		if err := send(ctx, buf); err != nil {
			return sent, err
		}

		if _, err := o.queue.Dequeue(); err != nil {
			return sent, fmt.Errorf("removing delivered buffer %s/%d: %w", buf.Device, buf.Index, err)
		}

		sent++
	}
}

func (o *outbox) length() uint64 {
	return o.queue.Length()
}

func (o *outbox) close() error {
	return o.queue.Close()
}
