package store

import "strings"

// Namespace layout:
//
//	rooms/<room>                                  room document
//	rooms/<room>/participants/<id>                presence documents
//	rooms/<room>/connections/<initiator>~<responder>  handshake records
//	rooms/<room>/candidates                       flat candidate collection
//
// The connection key orders the pair as initiator~responder so both sides
// derive the same path from ids they already hold.

func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func RoomPath(room string) string {
	return Join("rooms", room)
}

func ParticipantsPath(room string) string {
	return Join("rooms", room, "participants")
}

func ParticipantPath(room, id string) string {
	return Join("rooms", room, "participants", id)
}

func ConnectionsPath(room string) string {
	return Join("rooms", room, "connections")
}

func ConnectionPath(room, initiator, responder string) string {
	return Join("rooms", room, "connections", initiator+"~"+responder)
}

func CandidatesPath(room string) string {
	return Join("rooms", room, "candidates")
}

// SplitConnectionID splits a connection document id into its initiator and
// responder ids. ok is false if the id is not a pair key.
func SplitConnectionID(id string) (initiator, responder string, ok bool) {
	initiator, responder, ok = strings.Cut(id, "~")
	if !ok || initiator == "" || responder == "" {
		return "", "", false
	}
	return initiator, responder, true
}
