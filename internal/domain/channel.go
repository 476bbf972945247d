package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel is the numeric identifier of a delivery medium.
type Channel int

const (
	ChannelEmail                 Channel = 10
	ChannelSMS                   Channel = 20
	ChannelDingDingRobot         Channel = 30
	ChannelWeChatServiceAccount  Channel = 40
	ChannelPush                  Channel = 50
	ChannelFeiShuRobot           Channel = 60
	ChannelEnterpriseWeChatRobot Channel = 70
)

var channelNames = map[Channel]string{
	ChannelEmail:                 "email",
	ChannelSMS:                   "sms",
	ChannelDingDingRobot:         "dingDingRobot",
	ChannelWeChatServiceAccount:  "weChatServiceAccount",
	ChannelPush:                  "push",
	ChannelFeiShuRobot:           "feiShuRobot",
	ChannelEnterpriseWeChatRobot: "enterpriseWeChatRobot",
}

func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// IsRobot reports whether the channel is a chat-bot webhook channel.
func (c Channel) IsRobot() bool {
	switch c {
	case ChannelDingDingRobot, ChannelFeiShuRobot, ChannelEnterpriseWeChatRobot:
		return true
	}
	return false
}

// ParseChannel accepts either the numeric id or the well-known name.
func ParseChannel(s string) (Channel, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: channel is required", ErrValidation)
	}

	if id, err := strconv.Atoi(trimmed); err == nil {
		if id <= 0 {
			return 0, fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
		}
		return Channel(id), nil
	}

	for ch, name := range channelNames {
		if strings.EqualFold(name, trimmed) {
			return ch, nil
		}
	}

	return 0, fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
}
