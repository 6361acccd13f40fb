package relay

import (
	"sync"

	"github.com/harun/collabedit/pkg/document"
	"github.com/harun/collabedit/pkg/presence"
)

type message struct {
	presence *presence.Update
	document *document.Update
}

func (m message) kind() string {
	if m.document != nil {
		return "document"
	}
	return "presence"
}

// mailbox delivers messages to one subscriber on its own goroutine. push
// never blocks, so a slow subscriber cannot stall a publisher.
type mailbox struct {
	mu      sync.Mutex
	queue   []message
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
	deliver func(message)
}

func newMailbox(deliver func(message)) *mailbox {
	m := &mailbox{
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	go m.run()
	return m
}

func (m *mailbox) push(msg message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return message{}, false
	}
	msg := m.queue[0]
	m.queue[0] = message{}
	m.queue = m.queue[1:]
	return msg, true
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}

		for {
			select {
			case <-m.done:
				return
			default:
			}

			msg, ok := m.pop()
			if !ok {
				break
			}
			m.deliver(msg)
		}
	}
}

func (m *mailbox) close() {
	m.once.Do(func() {
		close(m.done)
	})
}

// pending returns the number of undelivered messages
func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
