// Package domain contains core concepts of the telephony bridging layer.
// This file defines the identifier types shared across layers.
// No runtime, network, or UI logic should be added here.
package domain

// UserID identifies a chat user, native or bridge-owned.
type UserID string

// RoomID identifies a conversation.
type RoomID string
