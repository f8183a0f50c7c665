// Package resolver maps stored show references onto the library's current
// shows through an identifier cascade that refuses to guess.
package resolver
