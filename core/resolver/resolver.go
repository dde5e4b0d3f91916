// Package resolver turns a track id (or title/artist) into a fetchable audio
// URL. How the URL is produced is the resolver service's business.
package resolver

import "context"

// Query identifies the track to resolve. TrackID is preferred; Title and
// Artist help resolvers that search by name.
type Query struct {
	TrackID string
	Title   string
	Artist  string
}

// AudioSourceResolver returns an origin URL for a track, or an error wrapping
// model.ErrSourceUnavailable when none exists.
type AudioSourceResolver interface {
	Resolve(ctx context.Context, q Query) (string, error)
}
