// Package kafkastep provides produce and consume steps for Kafka compatible
// brokers and their fluent builders.
//
//	topic := kafkastep.NewTopicName("orders")
//	kafkastep.Produce(s).Topic(topic).WithKey("o-1").WithValue(order).And()
//	res := kafkastep.Consume(s).LastProducedTopic().WithTimeout(10 * time.Second).Then()
//
// Connections are built by a ClientFactory; the default uses
// segmentio/kafka-go. Bootstrap servers, client id, consume timeout and
// topic auto-creation come from settings. Auth and consumer group ids are
// resolved from the step, then the scenario context, then settings.
//
// A consume step joins its consumer group and polls until a message arrives
// or the timeout elapses. When the group coordinator was reported
// unavailable during that time, the step reads every partition of the topic
// directly from the earliest offset under a fresh timeout, and marks the
// result ViaFallback.
//
// Batch produce sends its records concurrently through one producer and
// reports a delivery per record. Batch consume uses a single consumer and
// returns the messages received so far when the timeout elapses.
package kafkastep
