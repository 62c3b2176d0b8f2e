// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/orlink-go/pkg/linkcrypto"
)

// Registry indexes the Channels of a Manager by their ID and, once open, by their peer's identity.
//
// Several open Channels to the same identity might exist, e.g., after both peers connected to each other at once.
// One of them is preferred for new circuits: canonical Channels before non-canonical ones, older before younger. All
// others are marked as bad for new circuits, but stay open for their existing circuits.
type Registry struct {
	byID       map[uint64]*Channel
	byIdentity map[linkcrypto.Digest][]*Channel
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[uint64]*Channel),
		byIdentity: make(map[linkcrypto.Digest][]*Channel),
	}
}

// add a new Channel.
func (r *Registry) add(ch *Channel) {
	r.byID[ch.id] = ch
}

// identify an opened Channel by its peer's identity. Unauthenticated peers are not indexed.
func (r *Registry) identify(ch *Channel) {
	identity := ch.PeerIdentity()
	if identity.IsZero() {
		return
	}

	r.byIdentity[identity] = append(r.byIdentity[identity], ch)
	r.elect(identity)
}

// remove a Channel and elect a new preferred Channel for its peer.
func (r *Registry) remove(ch *Channel) {
	delete(r.byID, ch.id)

	identity := ch.PeerIdentity()
	if identity.IsZero() {
		return
	}

	channels := r.byIdentity[identity]
	for i, candidate := range channels {
		if candidate == ch {
			channels = append(channels[:i], channels[i+1:]...)
			break
		}
	}

	if len(channels) == 0 {
		delete(r.byIdentity, identity)
		return
	}
	r.byIdentity[identity] = channels
	r.elect(identity)
}

// elect the preferred Channel for an identity and mark all others.
func (r *Registry) elect(identity linkcrypto.Digest) {
	channels := r.byIdentity[identity]
	sort.SliceStable(channels, func(i, j int) bool {
		return better(channels[i], channels[j])
	})

	for i, ch := range channels {
		bad := i > 0
		if bad && !ch.badForNewCircuits {
			ch.log().WithFields(log.Fields{
				"identity":  identity.Short(),
				"preferred": channels[0].id,
			}).Info("Marking duplicate channel as bad for new circuits")
		}
		ch.badForNewCircuits = bad
	}
}

// better reports if a should be preferred over b.
func better(a, b *Channel) bool {
	if a.Canonical() != b.Canonical() {
		return a.Canonical()
	}
	if !a.openedAt.Equal(b.openedAt) {
		return a.openedAt.Before(b.openedAt)
	}
	return a.id < b.id
}

// Lookup a Channel by its ID.
func (r *Registry) Lookup(id uint64) (ch *Channel, ok bool) {
	ch, ok = r.byID[id]
	return
}

// LookupByIdentity returns the preferred open Channel to a peer.
func (r *Registry) LookupByIdentity(identity linkcrypto.Digest) (ch *Channel, ok bool) {
	channels := r.byIdentity[identity]
	if len(channels) == 0 {
		return nil, false
	}
	return channels[0], true
}

// ForIdentity returns all open Channels to a peer, the preferred one first.
func (r *Registry) ForIdentity(identity linkcrypto.Digest) []*Channel {
	return append([]*Channel(nil), r.byIdentity[identity]...)
}

// Channels returns all Channels ordered by their ID.
func (r *Registry) Channels() []*Channel {
	channels := make([]*Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].id < channels[j].id
	})
	return channels
}

// Len is the amount of registered Channels.
func (r *Registry) Len() int {
	return len(r.byID)
}
