package server

import (
	"context"
	"sync"

	"streamhub/events"
	"streamhub/models"

	log "github.com/sirupsen/logrus"
)

// Broadcaster passes newly ingested items to connected SSE clients. It is an
// events.Publisher so it can sit next to the NATS publisher.
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.Item
}

var _ events.Publisher = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.Item),
	}
}

func (b *Broadcaster) Publish(ctx context.Context, topic string, event any) error {
	if topic != events.TopicItemsIngested {
		return nil
	}
	ingested, ok := event.(events.ItemsIngested)
	if !ok {
		return nil
	}
	b.BroadcastItems(ingested.Items)
	return nil
}

func (b *Broadcaster) BroadcastItems(items []models.Item) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		for _, item := range items {
			select {
			case client <- item: // Non-blocking send
			default:
				log.Warnf("Client channel full, skipping item for client: %v", id)
			}
		}
	}
}

func (b *Broadcaster) AddClient(key string, client chan models.Item) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Clients() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

// Close disconnects every client
func (b *Broadcaster) Close() error {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
	return nil
}
