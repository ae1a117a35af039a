// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"github.com/conflux-foundation/conflux/hub/stream"
	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// Oracle is the read-only query facade over a hub: fragment snapshots
// and live stream handles, nothing that mutates. Obtain one from
// Hub.Oracle; the zero value is not usable.
type Oracle struct {
	h *Hub
}

// Oracle returns the hub's query facade.
func (h *Hub) Oracle() Oracle { return Oracle{h: h} }

// Fragment returns the current snapshot for id, served like Hub.Get:
// cache first, store fallthrough with read-fill.
func (o Oracle) Fragment(id cid.ID) (fragment.Fragment, error) {
	return o.h.getLocal(id)
}

// Stream returns the live stream handle for id. A fragment with no
// live stream reports ErrNoStream; an unknown ID reports
// fragment.ErrNotFound. The two are distinct: the first means "the
// data exists, ask again later", the second means the ID itself is
// wrong.
func (o Oracle) Stream(id cid.ID) (stream.Handle, error) {
	if handle, ok := o.h.registry.Lookup(id); ok {
		return handle, nil
	}
	if _, err := o.h.store.Get(id); err != nil {
		return nil, err
	}
	return nil, ErrNoStream
}
