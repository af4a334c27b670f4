// Package bus defines the bounded command-queue convention shared by
// Centinela's long-lived actors: the data store and the notifier each own
// a single command channel of this depth and are its sole consumer; the
// tail sources use the same depth for their outgoing line channel.
package bus

// QueueCapacity is the buffer depth used for every command channel in the
// system. Each actor is the sole consumer of its own channel, so this
// bounds memory and provides the back-pressure described by the
// concurrency model: a slow consumer blocks its producers' sends rather
// than growing without limit.
const QueueCapacity = 32
