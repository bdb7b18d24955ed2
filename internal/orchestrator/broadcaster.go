package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cewlabs/cew/models"
)

// Subscription is one observer's handle on a lab's monitoring stream. The
// snapshot channel is bounded; the publisher drops the oldest entry on
// overflow so observers can never back-pressure it. The channel is closed
// when the publisher retires.
type Subscription struct {
	labID string
	id    uint64
	ch    chan models.Snapshot
}

// Snapshots is the channel the observer pulls from.
func (s *Subscription) Snapshots() <-chan models.Snapshot { return s.ch }

// LabID reports which lab this subscription observes.
func (s *Subscription) LabID() string { return s.labID }

// publisher is the per-lab fan-out task. Subscribers are owned by the
// broadcaster's lock; the goroutine only snapshots them.
type publisher struct {
	labID string
	wake  chan struct{}
	subs  map[uint64]*Subscription
}

// Broadcaster delivers periodic health/usage snapshots to per-lab
// subscribers. One publisher goroutine runs per observed lab; it starts on
// first subscription and exits within one poll period of the lab leaving
// the running state.
type Broadcaster struct {
	sup      *Supervisor
	registry *Registry
	interval time.Duration
	queue    int

	mu     sync.Mutex
	nextID uint64
	pubs   map[string]*publisher
}

// NewBroadcaster creates a broadcaster with the given poll period and
// per-subscriber queue bound.
func NewBroadcaster(sup *Supervisor, registry *Registry, interval time.Duration, queue int) *Broadcaster {
	return &Broadcaster{
		sup:      sup,
		registry: registry,
		interval: interval,
		queue:    queue,
		pubs:     make(map[string]*publisher),
	}
}

// Subscribe registers an observer for the lab, starting the lab's publisher
// if it is not running yet.
func (b *Broadcaster) Subscribe(labID string) (*Subscription, error) {
	if _, err := b.registry.Get(labID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		labID: labID,
		id:    b.nextID,
		ch:    make(chan models.Snapshot, b.queue),
	}

	pub, ok := b.pubs[labID]
	if !ok {
		pub = &publisher{
			labID: labID,
			wake:  make(chan struct{}, 1),
			subs:  make(map[uint64]*Subscription),
		}
		b.pubs[labID] = pub
		go b.run(pub)
	}
	pub.subs[sub.id] = sub

	return sub, nil
}

// Unsubscribe removes the observer. Idempotent; safe after the publisher
// has retired.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if pub, ok := b.pubs[sub.labID]; ok {
		delete(pub.subs, sub.id)
	}
}

// PublishNow nudges the lab's publisher to emit a snapshot without waiting
// for the next tick. No-op when the lab has no publisher.
func (b *Broadcaster) PublishNow(labID string) {
	b.mu.Lock()
	pub, ok := b.pubs[labID]
	b.mu.Unlock()
	if !ok {
		return
	}

	select {
	case pub.wake <- struct{}{}:
	default:
	}
}

// run is the publisher loop: compose a snapshot, fan it out, sleep one poll
// period. It exits as soon as the lab is no longer running, which also
// covers stop_lab and the kill-switch within one period.
func (b *Broadcaster) run(pub *publisher) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		status, err := b.registry.Status(pub.labID)
		if err != nil || status != models.LabRunning {
			b.retire(pub)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.interval)
		snap, err := b.sup.Snapshot(ctx, pub.labID)
		cancel()
		if err != nil {
			log.Printf("Broadcaster: snapshot of lab %s failed: %v", pub.labID, err)
		} else {
			b.deliver(pub, *snap)
		}

		select {
		case <-ticker.C:
		case <-pub.wake:
		}
	}
}

// deliver posts the snapshot to every subscriber queue, dropping the oldest
// queued snapshot when a queue is full.
func (b *Broadcaster) deliver(pub *publisher, snap models.Snapshot) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(pub.subs))
	for _, s := range pub.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// retire closes every subscriber channel and forgets the publisher.
func (b *Broadcaster) retire(pub *publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range pub.subs {
		close(sub.ch)
	}
	pub.subs = map[uint64]*Subscription{}
	delete(b.pubs, pub.labID)

	log.Printf("Broadcaster: publisher for lab %s retired", pub.labID)
}
