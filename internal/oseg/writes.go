package oseg

import (
	"fmt"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Upsert writes entry through to the backing store and updates the cache
// without waiting for acknowledgement. An entry with Epoch 0 is stamped
// with the epoch after the cached one; if the store holds a newer record
// the write is re-stamped past the stored epoch and sent again.
func (i *Index) Upsert(id domain.ObjectID, entry domain.OSegEntry) {
	_ = i.strand.Post(func() { i.upsert(id, entry, nil) })
}

// UpsertTracked is Upsert whose future completes once the store has
// acknowledged the write. A write with an explicit epoch that loses to a
// newer one completes with domain.ErrStaleWrite.
func (i *Index) UpsertTracked(id domain.ObjectID, entry domain.OSegEntry) <-chan error {
	done := make(chan error, 1)
	if err := i.strand.Post(func() { i.upsert(id, entry, done) }); err != nil {
		done <- domain.ErrClosed
	}
	return done
}

func (i *Index) upsert(id domain.ObjectID, entry domain.OSegEntry, done chan error) domain.OSegEntry {
	stamped := entry.Epoch == 0
	if stamped {
		var prev uint16
		if cached, ok := i.cache.Peek(id); ok {
			prev = cached.Epoch
		}
		entry.Epoch = domain.NextEpoch(prev)
	}

	i.cache.Insert(id, entry)

	// Every write is tracked so a rejection can be reconciled, even when
	// nobody waits on done.
	track := i.trackingNumber()
	w := &trackedWrite{id: id, key: domain.StoreKey(id), entry: entry, done: done, stamped: stamped}
	i.writes[track] = w
	i.sendWrite(track, w)
	return entry
}

func (i *Index) sendWrite(track uint64, w *trackedWrite) {
	i.metrics.storeRequests.WithLabelValues("set").Inc()
	i.counters.StoreSets++
	i.store.SetTracked(w.key, w.entry, track)
}

// completeWrite reports the outcome of a write that has left i.writes.
func (i *Index) completeWrite(w *trackedWrite, err error) {
	if w.done != nil {
		w.done <- err
		return
	}
	if err != nil {
		i.logger.Warn("upsert dropped", "object", w.id, "epoch", w.entry.Epoch, "error", err)
	}
}

// restamp reads the stored record for a rejected write and resends it
// with the epoch after the stored one.
func (i *Index) restamp(track uint64, w *trackedWrite) {
	w.restamps++
	i.readStore(w.id, func(r LookupResult) {
		if cur, ok := i.writes[track]; !ok || cur != w {
			return
		}
		if r.Status == StatusFailed {
			delete(i.writes, track)
			i.completeWrite(w, fmt.Errorf("upsert %s: %w", w.id, r.Err))
			return
		}

		prev := w.entry.Epoch
		if r.Status == StatusFound && r.Entry.NewerThan(w.entry) {
			prev = r.Entry.Epoch
		}
		w.entry.Epoch = domain.NextEpoch(prev)
		i.logger.Debug("re-stamping rejected upsert", "object", w.id, "epoch", w.entry.Epoch, "stored_epoch", r.Entry.Epoch)
		i.cache.Insert(w.id, w.entry)
		i.sendWrite(track, w)
	})
}

// trackingNumber returns the next tracked-write id; 0 is never used.
func (i *Index) trackingNumber() uint64 {
	i.nextTrack++
	if i.nextTrack == 0 {
		i.nextTrack = 1
	}
	return i.nextTrack
}

// Remove evicts id from the cache and forgets local ownership. The
// backing-store record is left for the next owner to overwrite.
func (i *Index) Remove(id domain.ObjectID) {
	_ = i.strand.Post(func() {
		i.cache.Remove(id)
		delete(i.migrating, id)
		if _, ok := i.owned[id]; ok {
			delete(i.owned, id)
			i.metrics.owned.Set(float64(len(i.owned)))
		}
	})
}

// AddLocalObject records that this server now hosts id and publishes the
// ownership with a tracked write.
func (i *Index) AddLocalObject(id domain.ObjectID, radius float32) <-chan error {
	done := make(chan error, 1)
	err := i.strand.Post(func() {
		i.owned[id] = radius
		i.metrics.owned.Set(float64(len(i.owned)))
		i.upsert(id, domain.OSegEntry{Owner: i.cfg.LocalServer, Radius: radius}, done)
	})
	if err != nil {
		done <- domain.ErrClosed
	}
	return done
}

// AddMigratedObject records an object that arrived from another server.
// prevEpoch is the epoch the source last published; the new record
// supersedes it.
func (i *Index) AddMigratedObject(id domain.ObjectID, radius float32, prevEpoch uint16) <-chan error {
	done := make(chan error, 1)
	err := i.strand.Post(func() {
		i.owned[id] = radius
		i.metrics.owned.Set(float64(len(i.owned)))

		epoch := domain.NextEpoch(prevEpoch)
		if cached, ok := i.cache.Peek(id); ok && cached.Epoch != 0 && int16(cached.Epoch-prevEpoch) > 0 {
			epoch = domain.NextEpoch(cached.Epoch)
		}
		i.upsert(id, domain.OSegEntry{Owner: i.cfg.LocalServer, Radius: radius, Epoch: epoch}, done)
	})
	if err != nil {
		done <- domain.ErrClosed
	}
	return done
}

// BeginMigration marks id as leaving for dest. Until the migration
// completes, lookups answer dest. It returns the epoch the destination
// must supersede.
func (i *Index) BeginMigration(id domain.ObjectID, dest domain.ServerID) <-chan uint16 {
	ch := make(chan uint16, 1)
	err := i.strand.Post(func() {
		i.migrating[id] = dest
		var epoch uint16
		if cached, ok := i.cache.Peek(id); ok {
			epoch = cached.Epoch
		}
		ch <- epoch
	})
	if err != nil {
		ch <- 0
	}
	return ch
}

// CompleteMigration handles the destination's acknowledgement: local
// ownership ends and the destination's entry is cached.
func (i *Index) CompleteMigration(id domain.ObjectID, entry domain.OSegEntry) {
	_ = i.strand.Post(func() {
		delete(i.migrating, id)
		if _, ok := i.owned[id]; ok {
			delete(i.owned, id)
			i.metrics.owned.Set(float64(len(i.owned)))
		}
		i.cache.Insert(id, entry)
	})
}

// ObserveUpdate caches an entry learned from a peer.
func (i *Index) ObserveUpdate(id domain.ObjectID, entry domain.OSegEntry) {
	_ = i.strand.Post(func() {
		i.cache.Insert(id, entry)
	})
}
