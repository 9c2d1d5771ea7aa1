package stream

import "sync"

// frameBroadcaster fans out JPEG frames to any number of /video_feed
// subscribers. Each subscriber gets a depth-2 buffered channel; a client
// too slow to keep up has frames dropped for it rather than blocking the
// publisher, matching the teacher's FrameBroadcaster contract.
type frameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
}

func newFrameBroadcaster() *frameBroadcaster {
	return &frameBroadcaster{clients: make(map[int]chan []byte)}
}

func (fb *frameBroadcaster) subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch
	return id, ch
}

func (fb *frameBroadcaster) unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
	}
}

// publish sends data to every subscriber, dropping it for any subscriber
// whose queue is already full.
func (fb *frameBroadcaster) publish(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

func (fb *frameBroadcaster) count() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}
