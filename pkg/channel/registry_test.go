// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"net"
	"testing"
)

func TestRegistryPreference(t *testing.T) {
	loop := NewLoop()
	init := newSide(t, loop, testConfig(3, 4), nil)

	respConf := testConfig(3, 4)
	respConf.AdvertisedAddrs = []net.IP{responderIP}
	resp := newSide(t, loop, respConf, nil)

	// Only the address the responder advertises makes a canonical channel.
	dial := func(at net.IP) *Channel {
		initTr, respTr := memoryLink(init, resp, at)
		ch, err := init.manager.OpenOutbound(initTr, resp.keys.Digest())
		if err != nil {
			t.Fatal(err)
		}
		if _, err = resp.manager.AcceptInbound(respTr); err != nil {
			t.Fatal(err)
		}
		loop.RunPending()

		if ch.State() != Open {
			t.Fatalf("channel is in state %v", ch.State())
		}
		return ch
	}

	otherIP := net.IPv4(192, 0, 2, 99)

	first := dial(otherIP)
	canonical := dial(responderIP)
	third := dial(otherIP)

	registry := init.manager.Registry()
	identity := resp.keys.Digest()

	if ch, ok := registry.LookupByIdentity(identity); !ok || ch != canonical {
		t.Fatalf("preferred channel is %v instead of %v", ch, canonical)
	}
	if canonical.BadForNewCircuits() || !first.BadForNewCircuits() || !third.BadForNewCircuits() {
		t.Fatalf("unexpected marks: %t, %t, %t",
			first.BadForNewCircuits(), canonical.BadForNewCircuits(), third.BadForNewCircuits())
	}
	if n := len(registry.ForIdentity(identity)); n != 3 {
		t.Fatalf("%d channels for identity", n)
	}

	canonical.Close()
	loop.RunPending()

	if ch, ok := registry.LookupByIdentity(identity); !ok || ch != first {
		t.Fatalf("preferred channel is %v instead of the older %v", ch, first)
	}
	if first.BadForNewCircuits() || !third.BadForNewCircuits() {
		t.Fatalf("unexpected marks: %t, %t", first.BadForNewCircuits(), third.BadForNewCircuits())
	}

	first.Close()
	third.Close()
	loop.RunPending()

	if _, ok := registry.LookupByIdentity(identity); ok {
		t.Fatalf("closed channels are still registered")
	}
	if n := registry.Len(); n != 0 {
		t.Fatalf("%d channels are registered", n)
	}
}

func TestRegistryUnauthenticated(t *testing.T) {
	initConf := testConfig(3, 4)
	initConf.Authenticate = false

	tb := newTestbed(t, initConf, testConfig(3, 4))
	tb.open(t)

	if tb.respCh.Authenticated() || !tb.respCh.PeerIdentity().IsZero() {
		t.Fatalf("unauthenticated initiator has an identity")
	}
	if ch, ok := tb.resp.manager.Registry().Lookup(tb.respCh.ID()); !ok || ch != tb.respCh {
		t.Fatalf("channel is not registered by ID")
	}
	if len(tb.resp.manager.Registry().byIdentity) != 0 {
		t.Fatalf("unauthenticated channel is registered by identity")
	}
}
