// Package nats bridges transport.Participant onto NATS core subjects.
//
// A topic maps to the subject "<prefix>.<topic>". The instance key and priority travel as
// message headers. Core NATS keeps nothing for absent subscribers, so a durable subscription is
// mapped to a queue group named after it: concurrent processes sharing the subscription split
// the traffic, but messages published while no member is connected are lost.
package nats
