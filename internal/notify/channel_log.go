package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
)

// LogChannel 把提醒写进结构化日志的投递通道（默认通道，也是本地联调用的通道）。
type LogChannel struct {
	log logger.Logger
}

func NewLogChannel(log logger.Logger) *LogChannel {
	return &LogChannel{log: log}
}

func (c *LogChannel) Deliver(_ context.Context, n Notification) error {
	if c == nil || c.log == nil {
		return fmt.Errorf("log channel not initialized")
	}
	fields := map[string]interface{}{
		"session_id":   n.SessionID,
		"ambulance_id": n.AmbulanceID,
		"recipient":    n.Recipient,
	}
	if n.TriggerID != "" {
		fields["trigger_id"] = n.TriggerID
	}
	if n.ETA != nil {
		fields["eta"] = n.ETA.Format(time.RFC3339)
	}
	if n.ArrivedAt != nil {
		fields["arrived_at"] = n.ArrivedAt.Format(time.RFC3339)
	}

	entry := c.log.WithFields(fields)
	if n.ArrivedAt != nil {
		entry.Info("ambulance arrived notification")
	} else {
		entry.Info("ambulance eta notification")
	}
	return nil
}
