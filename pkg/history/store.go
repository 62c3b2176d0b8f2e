// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package history keeps a persistent record of the channels to each peer, e.g., to judge a peer's reliability.
package history

import (
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/dtn7/orlink-go/pkg/channel"
	"github.com/dtn7/orlink-go/pkg/linkerr"
)

const dirBadger string = "db"

// Unidentified is the Identity of LinkRecords whose peer never proved its identity.
const Unidentified string = "unidentified"

// LinkRecord describes one finished channel.
type LinkRecord struct {
	Id string `badgerhold:"key"`

	Identity  string `badgerholdIndex:"Identity"`
	Address   string
	Transport string
	Role      string
	Version   uint16

	Authenticated bool
	Canonical     bool

	CreatedAt time.Time
	OpenedAt  time.Time
	ClosedAt  time.Time `badgerholdIndex:"ClosedAt"`

	CellsReceived uint64
	CellsSent     uint64

	Reason     string
	ReasonKind string
}

// Opened reports if the channel completed its handshake.
func (lr LinkRecord) Opened() bool {
	return !lr.OpenedAt.IsZero()
}

// Duration the channel was open.
func (lr LinkRecord) Duration() time.Duration {
	if !lr.Opened() {
		return 0
	}
	return lr.ClosedAt.Sub(lr.OpenedAt)
}

// NewLinkRecord from a channel's closing Status.
func NewLinkRecord(status channel.Status, closedAt time.Time) LinkRecord {
	info := status.Info

	lr := LinkRecord{
		Id:            fmt.Sprintf("%d-%d", info.CreatedAt.UnixNano(), info.ID),
		Identity:      info.Identity,
		Address:       info.RemoteAddr,
		Transport:     info.Transport,
		Role:          info.Role,
		Version:       info.LinkVersion,
		Authenticated: info.Authenticated,
		Canonical:     info.Canonical,
		CreatedAt:     info.CreatedAt,
		ClosedAt:      closedAt,
		CellsReceived: info.CellsReceived,
		CellsSent:     info.CellsSent,
		Reason:        info.Reason,
	}
	if info.OpenedAt != nil {
		lr.OpenedAt = *info.OpenedAt
	}
	if lr.Identity == "" {
		lr.Identity = Unidentified
	}
	if status.Reason != nil {
		lr.ReasonKind = linkerr.KindOf(status.Reason).String()
	}
	return lr
}

// Summary of a peer's LinkRecords.
type Summary struct {
	Identity string `json:"identity"`

	// Opened channels completed their handshake, Failed ones did not.
	Opened int `json:"opened"`
	Failed int `json:"failed"`

	// Uptime is the total time of all opened channels.
	Uptime time.Duration `json:"uptime"`

	// LastOpened is nil if no channel was ever opened.
	LastOpened *time.Time `json:"last_opened,omitempty"`
}

// Store persists LinkRecords.
type Store struct {
	bh *badgerhold.Store

	badgerDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<26 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh:        bh,
			badgerDir: badgerDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Record a LinkRecord. Recording the same channel twice keeps the latest LinkRecord.
func (s *Store) Record(lr LinkRecord) error {
	log.WithFields(log.Fields{
		"identity": lr.Identity,
		"record":   lr.Id,
	}).Debug("Recording link")

	return s.bh.Upsert(lr.Id, lr)
}

// ForIdentity fetches all LinkRecords of a peer, ordered by their creation.
func (s *Store) ForIdentity(identity string) (lrs []LinkRecord, err error) {
	if err = s.bh.Find(&lrs, badgerhold.Where("Identity").Eq(identity)); err != nil {
		return
	}

	sort.Slice(lrs, func(i, j int) bool {
		return lrs[i].CreatedAt.Before(lrs[j].CreatedAt)
	})
	return
}

// Summary of a peer's LinkRecords.
func (s *Store) Summary(identity string) (summary Summary, err error) {
	lrs, err := s.ForIdentity(identity)
	if err != nil {
		return
	}

	summary.Identity = identity
	for _, lr := range lrs {
		if !lr.Opened() {
			summary.Failed++
			continue
		}

		summary.Opened++
		summary.Uptime += lr.Duration()
		if summary.LastOpened == nil || lr.OpenedAt.After(*summary.LastOpened) {
			openedAt := lr.OpenedAt
			summary.LastOpened = &openedAt
		}
	}
	return
}

// DeleteBefore removes all LinkRecords closed before the given time.
func (s *Store) DeleteBefore(t time.Time) error {
	return s.bh.DeleteMatching(LinkRecord{}, badgerhold.Where("ClosedAt").Lt(t))
}

// Consume records the closed channels reported by a channel.Manager's StatusChannel until it is closed.
func (s *Store) Consume(statuses <-chan channel.Status) {
	for status := range statuses {
		if status.Type != channel.ChannelClosed {
			continue
		}

		if err := s.Record(NewLinkRecord(status, time.Now())); err != nil {
			log.WithError(err).WithField("status", status).Warn("Failed to record link")
		}
	}
}
