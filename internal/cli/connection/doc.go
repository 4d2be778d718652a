// Package connection is the segmesh-cli client of the segmesh-server HTTP
// API. Error envelopes come back as *domain.Error so callers can match
// them with errors.Is.
package connection
