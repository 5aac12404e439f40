package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	dn "infodigest/internal/domain/notification"
)

// DeviceSource 查詢使用者已註冊的裝置 token。
type DeviceSource interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

// DeliveryLog 為一筆推播送達紀錄。
type DeliveryLog struct {
	NotificationID string
	UserID         string
	Type           string
	Title          string
	Priority       float64
	Devices        int
	Succeeded      int
	Error          string
	SentAt         time.Time
}

// DeliveryLogger 寫入推播紀錄；寫入失敗不影響送達結果。
type DeliveryLogger interface {
	InsertPushLog(ctx context.Context, entry DeliveryLog) error
}

// PushDeliverer 將佇列中的通知展開到使用者的每個裝置送出。
// 任一裝置成功即視為送達；全部失敗回傳錯誤交由佇列重試。
type PushDeliverer struct {
	client  *PushClient
	devices DeviceSource
	logs    DeliveryLogger // 可為 nil
	enabled bool
	nowFunc func() time.Time
}

func NewPushDeliverer(client *PushClient, devices DeviceSource, logs DeliveryLogger, enabled bool) *PushDeliverer {
	return &PushDeliverer{
		client:  client,
		devices: devices,
		logs:    logs,
		enabled: enabled,
		nowFunc: time.Now,
	}
}

// Deliver 送出單筆通知。推播未啟用時僅寫日誌並視為成功。
func (d *PushDeliverer) Deliver(ctx context.Context, n dn.Notification) error {
	if !d.enabled {
		log.Printf("[Push] disabled, drop notification id=%s user_id=%s title=%q priority=%.0f",
			n.ID, n.UserID, n.Title, n.Priority)
		return nil
	}

	tokens, err := d.devices.DeviceTokens(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(tokens) == 0 {
		d.record(ctx, n, 0, 0, "no registered devices")
		return fmt.Errorf("no registered devices for user %s", n.UserID)
	}

	succeeded := 0
	var lastErr error
	for _, token := range tokens {
		err := d.client.Send(ctx, PushMessage{
			DeviceToken: token,
			Title:       n.Title,
			Body:        n.Message,
			Priority:    n.Priority,
			Payload:     n.Payload,
		})
		if err != nil {
			lastErr = err
			log.Printf("[Push] device send failed notification_id=%s user_id=%s err=%v", n.ID, n.UserID, err)
			continue
		}
		succeeded++
	}

	errMsg := ""
	if succeeded == 0 && lastErr != nil {
		errMsg = lastErr.Error()
	}
	d.record(ctx, n, len(tokens), succeeded, errMsg)

	if succeeded == 0 {
		return fmt.Errorf("all devices failed: %w", lastErr)
	}
	return nil
}

func (d *PushDeliverer) record(ctx context.Context, n dn.Notification, devices, succeeded int, errMsg string) {
	if d.logs == nil {
		return
	}
	entry := DeliveryLog{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Title:          n.Title,
		Priority:       n.Priority,
		Devices:        devices,
		Succeeded:      succeeded,
		Error:          errMsg,
		SentAt:         d.nowFunc(),
	}
	if err := d.logs.InsertPushLog(ctx, entry); err != nil {
		log.Printf("[Push] insert push log failed notification_id=%s err=%v", n.ID, err)
	}
}
