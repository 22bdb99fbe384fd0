// Package gateway defines the outbound messaging contract the engine sends
// through. Implementations return the provider message id so delivery status
// updates arriving later over the webhook can be correlated.
package gateway

import (
	"context"
	"fmt"

	"github.com/waflow/flowd/model"
)

type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

func (r *HTTPResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DeliveryError is a terminal send failure. The engine does not retry it, a
// supervisor re-invoking resume may.
type DeliveryError struct {
	StatusCode int
	Message    string
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed with status %d: %s", e.StatusCode, e.Message)
}

type Gateway interface {
	SendText(ctx context.Context, to string, text string) (string, error)
	SendImage(ctx context.Context, to string, link string, caption string) (string, error)
	SendDocument(ctx context.Context, to string, link string, caption string) (string, error)
	SendVideo(ctx context.Context, to string, link string, caption string) (string, error)
	SendAudio(ctx context.Context, to string, link string) (string, error)
	SendButtons(ctx context.Context, to string, body string, buttons []model.Button) (string, error)
	SendTemplate(ctx context.Context, to string, name string, language string, variables []string, headerMediaUrl string) (string, error)
	HTTPRequest(ctx context.Context, method string, url string, headers map[string]string, body []byte) (*HTTPResponse, error)
}
