// Package events is the in-process pub/sub channel for orchestrator
// lifecycle notifications. Delivery is best-effort: a slow subscriber
// loses events rather than blocking the publisher, because nothing
// here is allowed to stall a start/stop path.
package events
