// Package notify forwards poll fetch outcomes to places outside the process.
//
// PubSubNotifier publishes one message per completed fetch so other services
// can react to a source going down or recovering. LogObserver writes the same
// events to a zerolog logger.
package notify
