// Package tautulli wraps the Tautulli v2 API for watch history and user
// listings.
package tautulli
