package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/sjawhar/jarvis/internal/llm"
)

// Class is the user-facing category of a failed model request.
type Class string

const (
	ClassQuota      Class = "quota"
	ClassSafety     Class = "safety"
	ClassNetwork    Class = "network"
	ClassTimeout    Class = "timeout"
	ClassGeneric    Class = "generic"
	ClassProjection Class = "projection"
)

var classMessages = map[Class]string{
	ClassQuota:      "My apologies, Sir. We've exceeded our allotted compute quota. Please allow a moment before the next request.",
	ClassSafety:     "I'm afraid that request tripped the safety protocols, Sir. I cannot proceed.",
	ClassNetwork:    "Network uplink unstable, Sir. I was unable to reach the core servers.",
	ClassTimeout:    "The request timed out, Sir. The servers are taking longer than anticipated.",
	ClassGeneric:    "Apologies, Sir. I've encountered an unexpected anomaly in my processing matrix.",
	ClassProjection: "Holographic projection failed, Sir. The spatial tensors could not be resolved.",
}

func (c Class) Message() string {
	if msg, ok := classMessages[c]; ok {
		return msg
	}
	return classMessages[ClassGeneric]
}

// Classify maps a model error to a Class. Typed provider errors are checked
// first, then the error text, and anything else is generic.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	if c, ok := classifyTyped(err); ok {
		return c
	}
	return classifyText(err.Error())
}

func classifyTyped(err error) (Class, bool) {
	switch {
	case errors.Is(err, llm.ErrBlocked):
		return ClassSafety, true
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout, true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ClassNetwork, true
	}

	var gerr genai.APIError
	if errors.As(err, &gerr) {
		return classifyStatus(gerr.Code, gerr.Status)
	}
	var gperr *genai.APIError
	if errors.As(err, &gperr) && gperr != nil {
		return classifyStatus(gperr.Code, gperr.Status)
	}
	var oerr *openai.APIError
	if errors.As(err, &oerr) {
		if code, ok := oerr.Code.(string); ok && code == "content_filter" {
			return ClassSafety, true
		}
		return classifyStatus(oerr.HTTPStatusCode, oerr.Type)
	}
	var oreq *openai.RequestError
	if errors.As(err, &oreq) {
		return classifyStatus(oreq.HTTPStatusCode, "")
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return classifyStatus(aerr.StatusCode, "")
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return ClassTimeout, true
		}
		return ClassNetwork, true
	}
	return "", false
}

func classifyStatus(code int, status string) (Class, bool) {
	status = strings.ToUpper(status)
	switch {
	case code == http.StatusTooManyRequests, status == "RESOURCE_EXHAUSTED", strings.Contains(status, "INSUFFICIENT_QUOTA"):
		return ClassQuota, true
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout, status == "DEADLINE_EXCEEDED":
		return ClassTimeout, true
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, status == "UNAVAILABLE":
		return ClassNetwork, true
	}
	return "", false
}

// Order matters: a quota message that mentions the network is still quota.
var textRules = []struct {
	class   Class
	needles []string
}{
	{ClassQuota, []string{"quota", "rate limit", "rate-limit", "resource_exhausted", "429"}},
	{ClassSafety, []string{"safety", "blocked", "content_filter", "harm_category"}},
	{ClassTimeout, []string{"timeout", "timed out", "deadline"}},
	{ClassNetwork, []string{"network", "connection", "dial tcp", "no such host", "unreachable", "unexpected eof", ": eof"}},
}

func classifyText(msg string) Class {
	msg = strings.ToLower(msg)
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.class
			}
		}
	}
	return ClassGeneric
}
