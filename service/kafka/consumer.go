package kafka

import (
	"path"

	"fieldgate/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// matchChannel reports whether channel is one of the subscriptions; "*"
// matches within a channel name the way Redis PSUBSCRIBE does for ours.
func matchChannel(subs []string, channel string) bool {
	for _, s := range subs {
		if s == channel {
			return true
		}
		if ok, _ := path.Match(s, channel); ok {
			return true
		}
	}
	return false
}

// fanoutHandler hands every record whose key is a subscribed channel to
// deliver. Records are marked even when skipped.
type fanoutHandler struct {
	subs    []string
	deliver func(channel string, payload []byte)
}

func (h *fanoutHandler) Setup(s sarama.ConsumerGroupSession) error {
	logger.Info("[kafka] consumer group setup", zap.String("member", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *fanoutHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Debug("[kafka] consumer group cleanup")
	return nil
}

func (h *fanoutHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			channel := string(msg.Key)
			if matchChannel(h.subs, channel) {
				h.deliver(channel, msg.Value)
			} else {
				logger.Debug("[kafka] skip record", zap.String("channel", channel), zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))
			}
			session.MarkMessage(msg, "")
		}
	}
}
