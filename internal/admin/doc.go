// Package admin wraps the tracker's administrative commands: domains,
// classes, storage hosts and devices, server settings and the file checker.
package admin
