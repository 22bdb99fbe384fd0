// Package whatsapp implements the outbound gateway against the WhatsApp
// Cloud API messages endpoint.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/waflow/flowd/gateway"
	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
)

const DEFAULT_BASE_URL = "https://graph.facebook.com/v17.0"

type Config struct {
	BaseUrl       string
	PhoneNumberId string
	AccessToken   string
	Timeout       time.Duration
}

var _ gateway.Gateway = new(Client)

type Client struct {
	conf       Config
	httpClient *http.Client
}

func NewClient(conf Config) *Client {
	if conf.BaseUrl == "" {
		conf.BaseUrl = DEFAULT_BASE_URL
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 15 * time.Second
	}
	return &Client{
		conf: conf,
		httpClient: &http.Client{
			Timeout: conf.Timeout,
		},
	}
}

type messagePayload struct {
	MessagingProduct string              `json:"messaging_product"`
	To               string              `json:"to"`
	Type             string              `json:"type"`
	Text             *textPayload        `json:"text,omitempty"`
	Image            *mediaPayload       `json:"image,omitempty"`
	Document         *mediaPayload       `json:"document,omitempty"`
	Video            *mediaPayload       `json:"video,omitempty"`
	Audio            *mediaPayload       `json:"audio,omitempty"`
	Interactive      *interactivePayload `json:"interactive,omitempty"`
	Template         *templatePayload    `json:"template,omitempty"`
}

type textPayload struct {
	Body string `json:"body"`
}

type mediaPayload struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type interactivePayload struct {
	Type   string             `json:"type"`
	Body   textPayload        `json:"body"`
	Action *interactiveAction `json:"action,omitempty"`
}

type interactiveAction struct {
	Buttons []interactiveButton `json:"buttons"`
}

type interactiveButton struct {
	Type  string      `json:"type"`
	Reply buttonReply `json:"reply"`
}

type buttonReply struct {
	Id    string `json:"id"`
	Title string `json:"title"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type  string        `json:"type"`
	Text  string        `json:"text,omitempty"`
	Image *mediaPayload `json:"image,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		Id string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) SendText(ctx context.Context, to string, text string) (string, error) {
	return c.send(ctx, &messagePayload{
		To:   to,
		Type: "text",
		Text: &textPayload{Body: text},
	})
}

func (c *Client) SendImage(ctx context.Context, to string, link string, caption string) (string, error) {
	return c.send(ctx, &messagePayload{
		To:    to,
		Type:  "image",
		Image: &mediaPayload{Link: link, Caption: caption},
	})
}

func (c *Client) SendDocument(ctx context.Context, to string, link string, caption string) (string, error) {
	return c.send(ctx, &messagePayload{
		To:       to,
		Type:     "document",
		Document: &mediaPayload{Link: link, Caption: caption},
	})
}

func (c *Client) SendVideo(ctx context.Context, to string, link string, caption string) (string, error) {
	return c.send(ctx, &messagePayload{
		To:    to,
		Type:  "video",
		Video: &mediaPayload{Link: link, Caption: caption},
	})
}

func (c *Client) SendAudio(ctx context.Context, to string, link string) (string, error) {
	return c.send(ctx, &messagePayload{
		To:    to,
		Type:  "audio",
		Audio: &mediaPayload{Link: link},
	})
}

func (c *Client) SendButtons(ctx context.Context, to string, body string, buttons []model.Button) (string, error) {
	action := &interactiveAction{}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, interactiveButton{
			Type: "reply",
			Reply: buttonReply{
				Id:    b.Value,
				Title: b.Text,
			},
		})
	}
	return c.send(ctx, &messagePayload{
		To:   to,
		Type: "interactive",
		Interactive: &interactivePayload{
			Type:   "button",
			Body:   textPayload{Body: body},
			Action: action,
		},
	})
}

func (c *Client) SendTemplate(ctx context.Context, to string, name string, language string, variables []string, headerMediaUrl string) (string, error) {
	tmpl := &templatePayload{
		Name:     name,
		Language: templateLanguage{Code: language},
	}
	if headerMediaUrl != "" {
		tmpl.Components = append(tmpl.Components, templateComponent{
			Type: "header",
			Parameters: []templateParameter{
				{Type: "image", Image: &mediaPayload{Link: headerMediaUrl}},
			},
		})
	}
	if len(variables) > 0 {
		component := templateComponent{Type: "body"}
		for _, v := range variables {
			component.Parameters = append(component.Parameters, templateParameter{Type: "text", Text: v})
		}
		tmpl.Components = append(tmpl.Components, component)
	}
	return c.send(ctx, &messagePayload{
		To:       to,
		Type:     "template",
		Template: tmpl,
	})
}

func (c *Client) send(ctx context.Context, payload *messagePayload) (string, error) {
	payload.MessagingProduct = "whatsapp"
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/%s/messages", c.conf.BaseUrl, c.conf.PhoneNumberId)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.conf.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gateway.DeliveryError{Message: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", gateway.DeliveryError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	var result sendResponse
	if err := json.Unmarshal(body, &result); err != nil && resp.StatusCode < 300 {
		return "", gateway.DeliveryError{StatusCode: resp.StatusCode, Message: "unparseable provider response"}
	}
	if resp.StatusCode >= 300 {
		message := string(body)
		if result.Error != nil {
			message = result.Error.Message
		}
		logger.Error("message delivery failed", zap.String("to", payload.To), zap.Int("status", resp.StatusCode))
		return "", gateway.DeliveryError{StatusCode: resp.StatusCode, Message: message}
	}
	if len(result.Messages) == 0 {
		return "", gateway.DeliveryError{StatusCode: resp.StatusCode, Message: "provider returned no message id"}
	}
	return result.Messages[0].Id, nil
}

// HTTPRequest dispatches an apiCall node. Any transport error or timeout is
// returned as is, status handling stays with the engine.
func (c *Client) HTTPRequest(ctx context.Context, method string, url string, headers map[string]string, body []byte) (*gateway.HTTPResponse, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &gateway.HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}, nil
}
