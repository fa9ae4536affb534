// Package invalidation 消费其它实例广播的授权变更事件，清理本地 L1 缓存。
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/logging"
	"gacha-admin/internal/metrics"

	kafkaGo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LocalInvalidator 由 PermissionService 实现
type LocalInvalidator interface {
	InvalidateLocal(ctx context.Context, identityID string) error
}

type Handler struct {
	Target LocalInvalidator
	Origin string // 本实例 id
	Logger *logging.Logger
}

func NewHandler(target LocalInvalidator, origin string, l *logging.Logger) *Handler {
	if l == nil {
		l = logging.Nop()
	}
	return &Handler{Target: target, Origin: origin, Logger: l}
}

// Handle 作为 kafka.MessageHandler 使用；无法解析的消息丢弃，不重试
func (h *Handler) Handle(ctx context.Context, m kafkaGo.Message) error {
	var ev model.PermissionEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		metrics.PermissionEvents.WithLabelValues("malformed", "unknown").Inc()
		h.Logger.WithContext(ctx).Warn("permission_event_malformed", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if ev.Origin != "" && ev.Origin == h.Origin {
		metrics.PermissionEvents.WithLabelValues("skipped_self", string(ev.Type)).Inc()
		return nil
	}
	if ev.AdminID == "" {
		metrics.PermissionEvents.WithLabelValues("malformed", string(ev.Type)).Inc()
		return nil
	}
	if err := h.Target.InvalidateLocal(ctx, ev.AdminID); err != nil {
		metrics.PermissionEvents.WithLabelValues("consume_error", string(ev.Type)).Inc()
		return fmt.Errorf("invalidate %s: %w", ev.AdminID, err)
	}
	metrics.PermissionEvents.WithLabelValues("consumed", string(ev.Type)).Inc()
	h.Logger.WithContext(ctx).Debug("permission_event_applied",
		zap.String("type", string(ev.Type)),
		zap.String("admin_id", ev.AdminID),
		zap.String("origin", ev.Origin))
	return nil
}
