package store

import "strings"

const DefaultPrefix = "thumb"

// Keyspace builds the Redis keys used by the pipeline under a common prefix.
type Keyspace string

func NewKeyspace(prefix string) Keyspace {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keyspace(prefix)
}

func (k Keyspace) key(parts ...string) string {
	return string(k) + ":" + strings.Join(parts, ":")
}

func (k Keyspace) RateLimit(client string) string {
	return k.key("rl", client)
}

func (k Keyspace) Idempotency(fingerprint string) string {
	return k.key("idem", fingerprint)
}

func (k Keyspace) Job(id string) string {
	return k.key("job", id)
}

func (k Keyspace) ReadyQueue() string {
	return k.key("queue", "ready")
}

func (k Keyspace) ProcessingQueue() string {
	return k.key("queue", "processing")
}

func (k Keyspace) DelayedQueue() string {
	return k.key("queue", "delayed")
}

func (k Keyspace) DeadLetters() string {
	return k.key("deadletters")
}
