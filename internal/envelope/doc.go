// Package envelope defines the message envelope and its durable record codec.
package envelope
