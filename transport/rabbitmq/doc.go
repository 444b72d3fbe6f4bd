// Package rabbitmq bridges transport.Participant onto RabbitMQ.
//
// Every topic is a routing key on one durable topic exchange. Writers publish with the AMQP
// delivery mode matching their durability. Each reader owns a queue bound to its topic: durable
// subscriptions get a named durable queue that outlives the process, other readers get an
// exclusive server-named queue. Deliveries are fed into a per-reader memory cache, which provides
// priority ordering, read conditions and instance handles. A delivery is acked on the broker when
// its sample is taken from the cache, and the consumer prefetch bounds the cache.
//
// The connection manager reconnects with exponential backoff and restarts reader consumers once
// the connection is back.
package rabbitmq
