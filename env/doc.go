// Package env provides a unified method to create environment for envexec.
//
// For linux, the env starts processes in new mount / network / ipc / uts /
// pid / user namespaces with POSIX resource limits applied between fork and
// exec. The process pivots into a read-only tmpfs root holding the system
// directories, a private /tmp and its own workspace.
//
// Other platforms are not supported.
package env
