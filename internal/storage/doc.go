// Package storage persists the card -> requester mapping.
//
// The webhook path resolves board events back to the Telegram user and chat
// that should be notified, so this mapping has to survive restarts. Records
// are written once at intake time and only read afterwards.
package storage
