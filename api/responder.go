package api

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// ApologyResponse is returned whenever a responder fails or times out, so
// connected clients always receive something.
const ApologyResponse = "I apologize, but I'm having trouble processing your request right now. Please try again later."

// Responder generates an assistant reply from the conversation so far.
type Responder interface {
	GenerateResponse(ctx context.Context, history []ChatTurn, userMessage string) (string, error)
}

// MockResponder produces canned keyword-driven replies with a simulated
// processing delay. It is the default responder when no provider is
// configured.
type MockResponder struct {
	// Delay approximates model latency. Zero means no delay, which the
	// tests rely on.
	Delay time.Duration

	// One instance is shared by every connection goroutine, and
	// rand.Rand is not safe for concurrent use.
	mu   sync.Mutex
	rand *rand.Rand
}

// NewMockResponder creates a mock responder with ~1s simulated latency
func NewMockResponder() *MockResponder {
	return &MockResponder{
		Delay: time.Second,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateResponse picks a reply based on keywords in the user message. It
// honors context cancellation during the simulated delay and never returns
// an error.
func (m *MockResponder) GenerateResponse(ctx context.Context, _ []ChatTurn, userMessage string) (string, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ApologyResponse, nil
		case <-timer.C:
		}
	}

	lower := strings.ToLower(userMessage)

	var responses []string
	switch {
	case containsAny(lower, "hello", "hi", "hey"):
		responses = []string{
			"Hello! How can I assist you today?",
			"Hi there! What would you like to know?",
			"Hey! I'm here to help. What's on your mind?",
		}
	case containsAny(lower, "thanks", "thank you"):
		responses = []string{
			"You're welcome! Is there anything else I can help you with?",
			"Happy to help! Let me know if you need anything else.",
			"Glad I could assist! Feel free to ask more questions.",
		}
	case strings.Contains(userMessage, "?"):
		responses = []string{
			"That's a great question about '" + strings.TrimRight(userMessage, "?") + "'. Let me help you with that...",
			"I'd be happy to help answer your question. Based on what you're asking...",
			"Interesting question! Here's what I can tell you...",
		}
	case containsAny(lower, "help", "assist", "support"):
		responses = []string{
			"I'm here to help! You can ask me about various topics, and I'll do my best to provide useful information.",
			"I'd be happy to assist you. What specific area would you like help with?",
			"Sure! I can help with information, explanations, problem-solving, and more. What do you need?",
		}
	case containsAny(lower, "weather", "temperature"):
		responses = []string{
			"I don't have access to real-time weather data, but I'd recommend checking a weather service or your local weather app.",
			"For current weather information, I'd suggest checking a reliable weather source in your area.",
		}
	case containsAny(lower, "time", "date"):
		responses = []string{
			"I don't have access to real-time information, but you can check your device's clock or search online for the current time and date.",
			"For current time and date information, please check your system clock or a reliable online source.",
		}
	default:
		responses = []string{
			"I understand you're asking about '" + truncate(userMessage, 50) + "'. While I'm still learning, I'd be happy to help you explore this topic further.",
			"That's an interesting point. Could you provide a bit more context so I can give you a more specific response?",
			"I'd like to help you with that. Could you elaborate a bit more on what you're looking for?",
			"Thanks for sharing that with me. What specific aspect would you like me to focus on?",
			"I see what you're getting at. Let me think about the best way to address your question...",
		}
	}

	return responses[m.intn(len(responses))], nil
}

func (m *MockResponder) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rand.Intn(n)
}

// DefaultSessionTitle is the placeholder title for sessions created
// without one; the first message replaces it via GenerateChatTitle.
const DefaultSessionTitle = "New Chat"

// GenerateChatTitle derives a short session title from the first message
func GenerateChatTitle(firstMessage string) string {
	words := strings.Fields(firstMessage)
	if len(words) == 0 {
		return DefaultSessionTitle
	}
	truncated := len(words) > 3
	if truncated {
		words = words[:3]
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	title := strings.Join(words, " ")
	if truncated {
		title += "..."
	}
	return title
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n runes, never splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
