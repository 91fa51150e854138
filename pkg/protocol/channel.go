package protocol

import "fmt"

// Channel is a named topic on the message bus. The set is closed: downstream
// observers key off these names literally, so adding one is a protocol change.
type Channel string

const (
	ChannelStatus    Channel = "status"
	ChannelAlert     Channel = "alert"
	ChannelPlan      Channel = "plan"
	ChannelArtifact  Channel = "artifact"
	ChannelHeartbeat Channel = "heartbeat"
)

// Channels lists every valid channel.
func Channels() []Channel {
	return []Channel{ChannelStatus, ChannelAlert, ChannelPlan, ChannelArtifact, ChannelHeartbeat}
}

// UnknownChannelError reports a channel name outside the closed set.
type UnknownChannelError struct {
	Name string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("protocol: unknown channel %q", e.Name)
}

// ParseChannel validates a channel name from untrusted input.
func ParseChannel(name string) (Channel, error) {
	switch Channel(name) {
	case ChannelStatus, ChannelAlert, ChannelPlan, ChannelArtifact, ChannelHeartbeat:
		return Channel(name), nil
	}
	return "", &UnknownChannelError{Name: name}
}
