// Package transport defines the narrow publish/subscribe data-distribution interface the
// messaging layer is built on.
//
// A Participant creates Writers and Readers for named topics. Writers publish Samples keyed by
// instance; Readers cache received Samples until they are taken, hand them out through
// ReadConditions ordered by priority or arrival, and signal new data through WaitSets and a
// data-available listener.
//
// Implementations live in the sub-packages:
//
//   - memory: an in-process data space, also used as the local reader cache of the bridges
//   - rabbitmq: topics mapped onto a RabbitMQ topic exchange
//   - nats: topics mapped onto NATS subjects
package transport
