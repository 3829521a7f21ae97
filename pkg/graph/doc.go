// Package graph holds the workspace model: plugin instances, typed port
// connections, and the settings that make up the persisted unit. It
// validates the connection graph (topological ordering, cycle detection
// with delay-edge exemption, endpoint and type checks) and persists
// workspaces as versioned JSON documents checked against an embedded CUE
// schema.
package graph
