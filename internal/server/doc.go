// Package server implements the HTTP ingest API and the framed TCP listener.
// Both fronts route audio chunks to session accumulation policies and provide
// monitoring/management endpoints.
package server
