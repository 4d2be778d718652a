// Package command provides the segmesh-cli commands, built on urfave/cli/v2.
//
//   - object: read and write object owners (OSEG)
//   - cseg: point lookups, the leaf list, population samples and a live
//     watch of tree changes
//   - servers, cluster: the server directory and replication status
//   - servermap, config: offline checks of server files
//   - system: health, readiness, index counters and version
//
// Every command reads its connection settings through the global flags,
// which override ~/.segmesh/cli.yaml.
package command
