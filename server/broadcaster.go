package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"dexwatch/models"
)

const clientBuffer = 16

// Broadcaster fans dispatched notifications out to SSE clients
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.NotificationEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.NotificationEvent),
	}
}

// OnNotification lets the broadcaster observe the monitor
func (b *Broadcaster) OnNotification(event models.NotificationEvent) {
	b.Broadcast(event)
}

func (b *Broadcaster) Broadcast(event models.NotificationEvent) {
	b.RLock()
	defer b.RUnlock()

	for key, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.WithField("key", key).Warn("Client channel full, skipping notification")
		}
	}
}

// AddClient registers a new client and returns its channel
func (b *Broadcaster) AddClient(key string) <-chan models.NotificationEvent {
	b.Lock()
	defer b.Unlock()

	ch := make(chan models.NotificationEvent, clientBuffer)
	b.clients[key] = ch
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
	return ch
}

// RemoveClient closes the client's channel. Unknown keys are ignored.
func (b *Broadcaster) RemoveClient(key string) bool {
	b.Lock()
	defer b.Unlock()

	client, ok := b.clients[key]
	if !ok {
		return false
	}
	close(client)
	delete(b.clients, key)

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
	return true
}

func (b *Broadcaster) Len() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}
