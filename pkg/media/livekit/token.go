package livekit

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// BuildAccessToken mints a LiveKit join token for the given room and identity.
// The call screen's backend normally supplies tokens; this helper exists for
// tools and examples that hold API credentials directly.
func BuildAccessToken(apiKey, apiSecret, room, identity string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = time.Hour
	}
	canPublish := true
	canSubscribe := true

	at := auth.NewAccessToken(apiKey, apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         room,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}
