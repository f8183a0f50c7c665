// Package plex talks to a Plex Media Server's JSON API for recently added
// episodes, show lookups, and the account user whitelist.
package plex
