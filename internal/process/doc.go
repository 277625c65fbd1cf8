// Package process owns the handle for the single backend process that tether
// supervises.
//
// A Managed value wraps the exec.Cmd, the lifecycle state and the exit record.
// Standard output and standard error are always captured and delivered line by
// line to a log handler; they are never inherited from the shell.
//
// On POSIX systems the child is placed in its own process group so that a single
// signal reaches every member of the backend's tree. On Windows the child gets a
// new process group and tree termination relies on taskkill; see the terminate
// package.
package process
