package twitch

import (
	"strconv"
)

// Topic namespaces. Personal namespaces take the account id, channel
// namespaces take the broadcaster id.
const (
	TopicUserDrops     = "user-drop-events"
	TopicUserPoints    = "community-points-user-v1"
	TopicVideoPlayback = "video-playback-by-id"
)

// TopicName joins a namespace with its target id.
func TopicName(namespace string, targetID int64) string {
	return namespace + "." + strconv.FormatInt(targetID, 10)
}
