// Package fanout moves events between gateway instances: alert and dashboard
// events produced by background jobs, and room emits relayed from peers.
package fanout

import (
	"context"
	"strings"
)

const (
	ChannelSitePattern    = "alerts:site:*"
	ChannelGlobal         = "alerts:global"
	ChannelActiveShifts   = "dashboard:active_shifts"
	ChannelUpcomingShifts = "dashboard:upcoming_shifts"
	ChannelRelay          = "rooms:relay"

	sitePrefix = "alerts:site:"
)

func SiteChannel(siteID string) string { return sitePrefix + siteID }

// siteFromChannel returns the site id of an alerts:site:{id} channel.
func siteFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, sitePrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, sitePrefix), true
}

// Channels lists what the bridge listens on. The relay channel is included
// only when relay is enabled.
func Channels(relay bool) []string {
	out := []string{ChannelSitePattern, ChannelGlobal, ChannelActiveShifts, ChannelUpcomingShifts}
	if relay {
		out = append(out, ChannelRelay)
	}
	return out
}

// Source delivers every message received on the bridge channels until ctx is
// done. deliver is called from one goroutine.
type Source interface {
	Run(ctx context.Context, deliver func(channel string, payload []byte)) error
}

// Sink publishes one payload on a channel.
type Sink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
