// Package repl provides the interactive shell of segmesh-cli.
//
// Each line is split into arguments and handed to an Executor, normally the
// CLI app itself, so every command works the same in both modes. A line
// ending in '?' lists the commands starting with it. History persists to
// ~/.segmesh/history.
package repl
