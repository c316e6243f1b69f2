package auth

import "strings"

const actorPrefix = "usr_"

// ActorFor encodes a user id as the actor string stored in created_by,
// approved_by and generated_by fields. Regeneration compares these strings,
// so the encoding must stay stable.
func ActorFor(userID string) string {
	if strings.HasPrefix(userID, actorPrefix) {
		return userID
	}
	return actorPrefix + userID
}

// UserIDFromActor reverses ActorFor.
func UserIDFromActor(actor string) string {
	return strings.TrimPrefix(actor, actorPrefix)
}
