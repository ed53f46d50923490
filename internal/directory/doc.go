// Package directory resolves user ids to the display name and avatar that
// are snapshotted onto messages when they are written.
//
// Profiles live in the store's profiles table and are refreshed whenever an
// authenticated identity connects. Lookups are cached for a configurable TTL
// and concurrent misses for the same user share one store query.
package directory
