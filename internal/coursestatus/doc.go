// Package coursestatus is the downstream handler for course status
// updates. Each update names a course, its new status and optionally the
// time the status changed; the store keeps the newest status per course.
package coursestatus
