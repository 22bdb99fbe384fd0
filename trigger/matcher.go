// Package trigger decides which flow, if any, an inbound event should start.
package trigger

import (
	"strings"

	"github.com/waflow/flowd/model"
)

type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match returns the first active keyword-triggered flow matching the inbound
// text, in the iteration order of flows. Returns nil when nothing matches.
func (m *Matcher) Match(inboundText string, flows []model.Flow) *model.Flow {
	for i := range flows {
		f := &flows[i]
		if f.Status != model.FLOW_STATUS_ACTIVE {
			continue
		}
		if f.Trigger.Type != model.TRIGGER_TYPE_KEYWORD {
			continue
		}
		if matchKeywords(inboundText, f.Trigger.Keywords, f.Trigger.ExactMatch) {
			return f
		}
	}
	return nil
}

// MatchButton matches a button-reply event against button-triggered flows by
// the configured button id.
func (m *Matcher) MatchButton(buttonId string, flows []model.Flow) *model.Flow {
	for i := range flows {
		f := &flows[i]
		if f.Status != model.FLOW_STATUS_ACTIVE {
			continue
		}
		if f.Trigger.Type != model.TRIGGER_TYPE_BUTTON {
			continue
		}
		if strings.EqualFold(f.Trigger.ButtonId, buttonId) {
			return f
		}
	}
	return nil
}

// MatchWebhook resolves an explicit webhook invocation naming a flow by id.
func (m *Matcher) MatchWebhook(flowId string, flows []model.Flow) *model.Flow {
	for i := range flows {
		f := &flows[i]
		if f.Status != model.FLOW_STATUS_ACTIVE {
			continue
		}
		if f.Trigger.Type != model.TRIGGER_TYPE_WEBHOOK {
			continue
		}
		if f.Id == flowId {
			return f
		}
	}
	return nil
}

func matchKeywords(text string, keywords []string, exact bool) bool {
	if exact {
		tokens := strings.Fields(strings.ToLower(text))
		for _, kw := range keywords {
			kw = strings.ToLower(kw)
			for _, token := range tokens {
				if token == kw {
					return true
				}
			}
		}
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
