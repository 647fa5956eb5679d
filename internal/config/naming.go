package config

import (
	"fmt"
	"strings"
)

// Naming derives resource names from a prefix and an environment suffix.
// It is a value; pass copies.
type Naming struct {
	Prefix string `json:"prefix" yaml:"prefix" env:"PREFIX"`
	Suffix string `json:"suffix" yaml:"suffix" env:"SUFFIX"`
}

// QueueName returns <prefix>Queue<suffix>.
func (n Naming) QueueName() string { return n.Prefix + "Queue" + n.Suffix }

// DeadLetterName returns <prefix>DLQ<suffix>.
func (n Naming) DeadLetterName() string { return n.Prefix + "DLQ" + n.Suffix }

// StageName returns the gateway stage path segment, coursestatus-<suffix>.
func (n Naming) StageName() string {
	return "coursestatus-" + strings.ToLower(n.Suffix)
}

// Validate rejects names that cannot be used as storage keyspaces or path
// segments.
func (n Naming) Validate() error {
	if n.Prefix == "" {
		return fmt.Errorf("%w: naming.prefix is required", ErrInvalid)
	}
	for _, s := range []string{n.Prefix, n.Suffix} {
		if strings.ContainsAny(s, "/\x00 ?#") {
			return fmt.Errorf("%w: naming %q contains a reserved character", ErrInvalid, s)
		}
	}
	return nil
}
