// Package notify publishes dead-letter events to NATS so operators and
// downstream systems learn about escalations without polling the admin API.
package notify
