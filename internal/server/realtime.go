package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
)

const realtimeBufferSize = 16

// RealtimeMessage notifies a creator's open streams about a change to one of their links.
type RealtimeMessage struct {
	CreatorID links.CreatorID
	EventType string
	Code      links.Code
	ExpiresAt time.Time
	Timestamp time.Time
}

// RealtimeDispatcher fans messages out to every stream a creator has open.
// Slow subscribers drop messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[links.CreatorID]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[links.CreatorID]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a stream for creatorID until ctx is done or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, creatorID links.CreatorID) (<-chan RealtimeMessage, func()) {
	if creatorID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(creatorID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(creatorID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.CreatorID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.CreatorID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many streams creatorID has open.
func (d *RealtimeDispatcher) SubscriberCount(creatorID links.CreatorID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[creatorID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(creatorID links.CreatorID, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[creatorID]; !ok {
		d.subscribers[creatorID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[creatorID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(creatorID links.CreatorID, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[creatorID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, creatorID)
		}
	}
	d.mu.Unlock()
}
