// Package config loads the service configuration.
//
// Sources are layered: Default(), then a JSON or YAML file, then
// COURSESTATUS_* environment variables (optionally seeded from .env files).
//
//	if _, err := config.LoadDotEnv(".env", ".env.local"); err != nil {
//	    return err
//	}
//	cfg, err := config.Resolve("/etc/coursestatus.yaml")
//	if err != nil {
//	    return err
//	}
//	q := cfg.Naming.QueueName() // CourseStatusQueueStaging
package config
