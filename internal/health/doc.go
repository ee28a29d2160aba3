// Package health watches an active recording segment. A Watch polls the
// output file and raises a stall when it stops growing or a startup failure
// when it never appears. Diagnostics scans encoder stderr for error keywords,
// and Preflight checks free space on the target volume before a segment
// starts.
package health
