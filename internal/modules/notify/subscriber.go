// README: Per-session subscriber with a bounded buffer and credit flow control.
package notify

import (
	"sync"
	"sync/atomic"

	"foodrun/internal/modules/order"
)

// Subscriber receives events for one client session. The broker never
// blocks on it: with no credits left or a full buffer the event is dropped
// and the client catches up on its next fetch.
type Subscriber struct {
	id    string
	actor order.Actor
	ch    chan *Event

	credits atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	// sendMu keeps close from racing an in-flight send.
	sendMu sync.RWMutex
	closed atomic.Bool
}

func newSubscriber(id string, actor order.Actor, bufferSize int, credits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		actor:  actor,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(credits)
	return s
}

func (s *Subscriber) ID() string         { return s.id }
func (s *Subscriber) Actor() order.Actor { return s.actor }

// C returns the event channel; it is closed when the subscription ends.
func (s *Subscriber) C() <-chan *Event { return s.ch }

func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }
func (s *Subscriber) Credits() int64     { return s.credits.Load() }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send reports false when the event was dropped.
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	for {
		current := s.credits.Load()
		if current <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// topicRegistry maps topic -> subscriber id -> subscriber.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

func (tr *topicRegistry) unsubscribeAll(sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, topic := range sub.Topics() {
		subs := tr.topics[topic]
		delete(subs, sub.ID())
		sub.removeTopic(topic)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// collect returns the distinct subscribers on any of the topics.
func (tr *topicRegistry) collect(topics []string) []*Subscriber {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	out := make([]*Subscriber, 0, len(seen))
	for _, sub := range seen {
		out = append(out, sub)
	}
	return out
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
