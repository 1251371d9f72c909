// ABOUTME: Package doc for lead event publishing
// ABOUTME: Optional AMQP topic-exchange publisher behind a small interface

// Package events publishes versioned lead events to a message broker.
//
// When events are disabled the NoopPublisher stands in, so the engine
// never branches on whether a broker is configured.
package events
