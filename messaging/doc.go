// Package messaging implements the JMS-style delivery core of mmate-jms on top of a
// publish/subscribe transport.
//
// The package provides:
//   - Connection: owns the DeliveryGate, the client id and the durable subscription registry
//   - Session: creates producers and consumers and keeps the unacknowledged set
//   - Consumer: priority-ordered blocking receive and listener (push) delivery
//   - Producer: header stamping and the persistent/volatile publication paths
//   - DeliveryGate and DeliveryExecutor: start/stop gating of delivery
//
// Connections start stopped. Messages are only handed to applications after Start.
//
// Example usage:
//
//	conn := messaging.NewConnection(memory.NewDomain().Participant(),
//		messaging.WithClientID("orders"))
//	defer conn.Close(ctx)
//
//	session, _ := conn.CreateSession(false, contracts.ClientAcknowledge)
//	topic, _ := session.CreateTopic("orders.created")
//	producer, _ := session.CreateProducer(ctx, topic)
//	consumer, _ := session.CreateConsumer(ctx, topic)
//	conn.Start()
//
//	_ = producer.Send(ctx, message.NewTextMessage("Hello"))
//	msg, _ := consumer.Receive(ctx, time.Second)
//	_ = msg.Env().Acknowledge(ctx)
//
// A MessageListener runs on the session's single delivery worker. It may call Recover and
// Acknowledge on its own session with any context. It must not close that session or stop or
// close the connection; those calls fail with contracts.ErrIllegalState when given the context
// the listener was handed.
package messaging
