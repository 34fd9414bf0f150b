package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kiranalink/khata/internal/domain"
)

// EndCallMarker is the token the voice agent appends when it wants to
// hang up after speaking its reply. Stripped before the text is spoken.
const EndCallMarker = "END_CALL"

// Composer produces collection messages and voice-agent replies. Every
// method returns usable text even when the provider is down.
type Composer struct {
	client *Client

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// NewComposer creates a message composer.
func NewComposer(client *Client) *Composer {
	return &Composer{client: client, Now: time.Now}
}

// PaymentLink returns the invoice's payment link, minting the hosted
// default when none was set at creation.
func PaymentLink(inv *domain.Invoice) string {
	if inv.PaymentLink != "" {
		return inv.PaymentLink
	}
	return "https://kiranalink.in/pay/" + inv.ID
}

// ─── Reminder Composition ───────────────────────────────────────────────────

// Compose generates channel- and tone-appropriate collection text for
// an invoice. Never returns an empty string.
func (c *Composer) Compose(ctx context.Context, inv *domain.Invoice, tone domain.Tone, ch domain.Channel) string {
	link := PaymentLink(inv)

	if !c.client.Enabled() {
		return fallbackMessage(inv, tone, ch, link)
	}

	prompt := fmt.Sprintf(`You are an AI debt collection assistant for a small business owner.
You need to generate a strictly professional, culturally appropriate collection message in English.
The customer name is %s.
The amount owed is ₹%d.
The due date was %s.
The requested tone of the message is: "%s".
Always include this payment link: %s`,
		inv.CustomerName, inv.Amount, inv.DueDate.Format("Mon Jan 2 2006"), tone, link)

	switch ch {
	case domain.ChannelVoice:
		prompt += "\nConstraint: This is the OPENING LINE of a live phone call. You are a local shopkeeper calling your customer. You must start the conversation natively like \"Hello ji, this is KiranaLink shop, calling for [name]...\" Keep it VERY short (1-2 sentences) and end with a question like \"When are you planning to pay the ₹[amount]?\" Do NOT include URLs or emojis."
	case domain.ChannelSMS:
		prompt += "\nConstraint: Keep the message under 160 characters. Be extremely brief."
	case domain.ChannelWhatsApp:
		prompt += "\nConstraint: Format nicely suitable for WhatsApp. You can use mild emojis."
	case domain.ChannelEmail:
		prompt += "\nConstraint: Format this as a formal email with a subject line at the very top (Subject: ...), dear/hi, and a sign-off."
	}

	reply, err := c.client.Chat(ctx, []Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: fmt.Sprintf("Draft the %s message now.", ch)},
	}, 150, 0.7)
	if err != nil || reply == "" {
		log.Printf("[composer] generation failed for invoice %s, using fallback: %v", inv.ID, err)
		return fallbackMessage(inv, tone, ch, link)
	}
	return reply
}

func fallbackMessage(inv *domain.Invoice, tone domain.Tone, ch domain.Channel, link string) string {
	switch ch {
	case domain.ChannelSMS:
		return fmt.Sprintf("Hi %s, you have a pending invoice of ₹%d (%s). Pay here: %s",
			inv.CustomerName, inv.Amount, tone, link)
	case domain.ChannelVoice:
		return fmt.Sprintf("Hello ji, this is KiranaLink shop calling for %s. You have a pending payment of rupees %d. When are you planning to pay?",
			inv.CustomerName, inv.Amount)
	default:
		return fmt.Sprintf("Dear %s,\n\nThis is a %s that your invoice of ₹%d due on %s is pending.\n\nPlease pay using this link: %s\n\nThank you,\nKiranaLink Stores",
			inv.CustomerName, tone, inv.Amount, inv.DueDate.Format("Mon Jan 2 2006"), link)
	}
}

// ─── Voice Agent ────────────────────────────────────────────────────────────

const agentReplyFallback = "I did not understand. Please pay your pending dues. Thank you. Goodbye."

// AgentReply generates the shopkeeper's next line in a live call, given
// the retained conversation so far (oldest first, ending with the
// customer's latest utterance). endCall reports whether the agent wants
// to hang up after speaking.
func (c *Composer) AgentReply(ctx context.Context, inv *domain.Invoice, history []domain.ConversationTurn) (text string, endCall bool) {
	prompt := fmt.Sprintf(`You are a Kirana shop owner in India calling your customer %s to collect a pending payment of rupees %d. Be polite and friendly like a real Indian shopkeeper. Talk in short 1-2 sentences only. Do NOT use special characters, emojis, or the rupee symbol. If customer promises to pay, say something like "Thank you, please pay soon. Goodbye!" and add the word END_CALL at the very end. If they ask for more time, say "Okay, I will give you some more days. Please pay soon. Goodbye!" and add END_CALL. If they say the bill is wrong, say "I understand, I will check. Goodbye!" and add END_CALL. Today is %s.`,
		inv.CustomerName, inv.Amount, c.Now().Format("02/01/2006"))

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: "system", Content: prompt})
	for _, turn := range history {
		role := "user"
		if turn.Role == domain.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, Message{Role: role, Content: turn.Text})
	}

	reply, err := c.client.Chat(ctx, messages, 80, 0.6)
	if err != nil {
		log.Printf("[composer] voice agent failed for invoice %s, using fallback: %v", inv.ID, err)
		reply = fmt.Sprintf("%s, you have a pending payment of rupees %d. When can you pay? %s",
			inv.CustomerName, inv.Amount, EndCallMarker)
	}
	if reply == "" {
		reply = agentReplyFallback + " " + EndCallMarker
	}

	endCall = strings.Contains(reply, EndCallMarker)
	text = strings.TrimSpace(strings.ReplaceAll(reply, EndCallMarker, ""))
	if text == "" {
		text = agentReplyFallback
	}
	return text, endCall
}
