package bus

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/dietplan/internal/types"
)

const tapBufSize = 256

// Bus is the observable event bus. The plan cache publishes every hit, miss,
// generation and failure through it; the auditor and the display consume
// read-only taps that see every message.
type Bus struct {
	mu   sync.RWMutex
	taps []chan types.Message
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{}
}

// Publish fans out msg to every tap.
// Non-blocking: if a tap is full, the message is dropped with a warning.
// ID and Timestamp are filled when empty. Safe on a nil *Bus.
func (b *Bus) Publish(msg types.Message) {
	if b == nil {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	taps := b.taps
	b.mu.RUnlock()

	// Taps are non-blocking so a slow auditor or display never stalls the cache.
	for _, ch := range taps {
		select {
		case ch <- msg:
		default:
			log.Printf("[BUS] WARNING: tap channel full, message dropped type=%s", msg.Type)
		}
	}
}

// NewTap returns a new read-only channel that receives every published
// message regardless of type. Each consumer should take its own tap.
func (b *Bus) NewTap() <-chan types.Message {
	ch := make(chan types.Message, tapBufSize)
	b.mu.Lock()
	b.taps = append(b.taps, ch)
	b.mu.Unlock()
	return ch
}
