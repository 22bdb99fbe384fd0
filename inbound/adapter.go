package inbound

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/waflow/flowd/model"
)

// Notification is the parsed content of one webhook delivery.
type Notification struct {
	Events   []model.InboundEvent
	Statuses []model.StatusUpdate
}

// Parse decodes a Cloud API webhook body. The conversation id is the sender's
// phone number; button and list replies carry the reply id alongside its
// label so quick replies can match either.
func Parse(body []byte) (*Notification, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unparseable webhook payload: %w", err)
	}
	if payload.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", payload.Object)
	}
	notification := &Notification{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				event := model.InboundEvent{
					ConversationId:  msg.From,
					FromPhoneNumber: msg.From,
					Timestamp:       parseTimestamp(msg.Timestamp),
				}
				switch {
				case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
					event.Type = model.EVENT_TYPE_BUTTON
					event.ButtonId = msg.Interactive.ButtonReply.Id
					event.ButtonText = msg.Interactive.ButtonReply.Title
				case msg.Interactive != nil && msg.Interactive.ListReply != nil:
					event.Type = model.EVENT_TYPE_BUTTON
					event.ButtonId = msg.Interactive.ListReply.Id
					event.ButtonText = msg.Interactive.ListReply.Title
				case msg.Button != nil:
					event.Type = model.EVENT_TYPE_BUTTON
					event.ButtonId = msg.Button.Payload
					event.ButtonText = msg.Button.Text
				case msg.Text != nil:
					event.Type = model.EVENT_TYPE_TEXT
					event.Text = msg.Text.Body
				default:
					// media and unsupported message kinds do not feed flows
					continue
				}
				notification.Events = append(notification.Events, event)
			}
			for _, status := range change.Value.Statuses {
				notification.Statuses = append(notification.Statuses, model.StatusUpdate{
					ProviderMessageId: status.Id,
					RecipientId:       status.RecipientId,
					Status:            status.Status,
					Timestamp:         parseTimestamp(status.Timestamp),
				})
			}
		}
	}
	return notification, nil
}

func parseTimestamp(unixSeconds string) time.Time {
	seconds, err := strconv.ParseInt(unixSeconds, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Now()
	}
	return time.Unix(seconds, 0)
}
