package llm

import (
	"context"
	"log"
	"strings"

	"github.com/kiranalink/khata/internal/domain"
)

const classifierPrompt = `You are a debt collection assistant intent classifier.
Read the following incoming customer message and classify its intent.
You MUST respond with exactly one of these strings, and absolutely nothing else:
PAYMENT_PROMISED
EXTENSION_REQUESTED
DISPUTE
UNKNOWN

If they explicitly promise to pay soon (e.g. "I will pay tomorrow", "Paying shortly", "Sent the money"): PAYMENT_PROMISED
If they ask for more time or a delay (e.g. "Can I pay next week?", "Need a few days"): EXTENSION_REQUESTED
If they disagree with the bill (e.g. "I already paid this!", "This amount is wrong"): DISPUTE
If it's anything else, generic, or unintelligible: UNKNOWN`

// Classifier maps customer utterances to a fixed intent enum. It never
// returns an error: provider failures classify as UNKNOWN, and without
// a provider a keyword heuristic takes over.
type Classifier struct {
	client *Client
}

// NewClassifier creates an intent classifier.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Classify returns the intent of a free-text utterance.
func (c *Classifier) Classify(ctx context.Context, utterance string) domain.Intent {
	if !c.client.Enabled() {
		return keywordIntent(utterance)
	}

	reply, err := c.client.Chat(ctx, []Message{
		{Role: "system", Content: classifierPrompt},
		{Role: "user", Content: utterance},
	}, 10, 0.1)
	if err != nil {
		log.Printf("[classifier] provider error, returning UNKNOWN: %v", err)
		return domain.IntentUnknown
	}
	return domain.ParseIntent(strings.ToUpper(strings.TrimSpace(reply)))
}

// keywordIntent is the offline heuristic. Pay-words mixed with
// delay-words read as an extension request, not a promise.
func keywordIntent(utterance string) domain.Intent {
	msg := strings.ToLower(utterance)
	if strings.Contains(msg, "pay") || strings.Contains(msg, "sent") || strings.Contains(msg, "done") {
		if strings.Contains(msg, "wait") || strings.Contains(msg, "next") || strings.Contains(msg, "later") {
			return domain.IntentExtensionRequested
		}
		return domain.IntentPaymentPromised
	}
	if strings.Contains(msg, "wrong") || strings.Contains(msg, "already") || strings.Contains(msg, "mistake") {
		return domain.IntentDispute
	}
	return domain.IntentUnknown
}
