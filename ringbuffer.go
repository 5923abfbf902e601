package main

import (
	"sync"
)

// HistoryCapacity is the fixed bound on per-topic message history.
const HistoryCapacity = 100

// RingBuffer is a bounded circular buffer of published payloads. When full,
// a push evicts the oldest entry.
type RingBuffer struct {
	buffer   []MessageData
	head     int  // next write position
	tail     int  // oldest entry
	size     int  // current number of entries
	capacity int  // maximum capacity
	full     bool // whether buffer is at capacity
	mutex    sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer:   make([]MessageData, capacity),
		capacity: capacity,
	}
}

// Push appends a payload, evicting the oldest entry if at capacity.
func (rb *RingBuffer) Push(message MessageData) {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	rb.buffer[rb.head] = message
	rb.head = (rb.head + 1) % rb.capacity

	if rb.full {
		rb.tail = (rb.tail + 1) % rb.capacity
	} else {
		rb.size++
		if rb.size == rb.capacity {
			rb.full = true
		}
	}
}

// GetLastN returns up to the last N payloads in chronological order without
// removing them.
func (rb *RingBuffer) GetLastN(n int) []MessageData {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	if rb.size == 0 || n <= 0 {
		return nil
	}

	count := n
	if count > rb.size {
		count = rb.size
	}

	messages := make([]MessageData, count)

	// Start position is count entries back from head.
	start := rb.head - count
	if start < 0 {
		start += rb.capacity
	}

	for i := 0; i < count; i++ {
		messages[i] = rb.buffer[(start+i)%rb.capacity]
	}

	return messages
}

// Size returns the current number of entries in the buffer.
func (rb *RingBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.size
}

// IsFull returns true if the buffer is at capacity.
func (rb *RingBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.full
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	rb.head = 0
	rb.tail = 0
	rb.size = 0
	rb.full = false
}
