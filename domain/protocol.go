// Package domain contains core concepts of the telephony bridging layer.
// This file defines the third-party protocol identifiers and lookup records
// exchanged with the bridge directory.
package domain

// Protocol identifiers recognized during capability discovery.
// ProtocolPSTN is checked before ProtocolPSTNLegacy; the first match wins.
const (
	ProtocolPSTN       = "chat.protocol.pstn"
	ProtocolPSTNLegacy = "m.protocol.pstn"
	ProtocolSIPVirtual = "chat.protocol.sip.virtual"
	ProtocolSIPNative  = "chat.protocol.sip.native"
)

// Field keys used in third-party lookup queries and results.
const (
	FieldPhoneNumber = "phone_number"
	FieldNativeUser  = "native_user_id"
	FieldVirtualUser = "virtual_user_id"
	FieldIsVirtual   = "is_virtual"
)

// ProtocolInfo is the directory metadata attached to one protocol instance.
// Opaque to the coordination layer: only the protocol identifiers matter here.
type ProtocolInfo struct {
	DisplayName string   `json:"display_name"`
	Fields      []string `json:"fields"`
}

// ThirdPartyUser is the result of a remote directory lookup, mapping a chat
// user to a third-party network identity. Not cached by this layer.
type ThirdPartyUser struct {
	UserID   UserID            `json:"user_id"`
	Protocol string            `json:"protocol"`
	Fields   map[string]string `json:"fields"`
}

// IsVirtual reports whether the directory flagged this identity as
// bridge-owned. Presence of the field is the signal, not its value.
func (u ThirdPartyUser) IsVirtual() bool {
	_, ok := u.Fields[FieldIsVirtual]
	return ok
}
