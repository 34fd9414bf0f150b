package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/kiranalink/khata/internal/infra/notify"
)

// ─── TwiML Builders ─────────────────────────────────────────────────────────
// The voice webhook must always answer with valid TwiML; a malformed
// response drops the live call on the customer's ear.

const emptyTwiml = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// gatherTwiml speaks text and listens for the customer's next utterance,
// posting it back to the voice webhook.
func gatherTwiml(text, baseURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Gather input="speech" action="%s/api/invoices/webhook/voice" method="POST" timeout="5" speechTimeout="auto" language="en-IN" enhanced="true" speechModel="phone_call"><Say voice="alice" language="en-IN">%s</Say></Gather><Say voice="alice" language="en-IN">I did not hear anything. Goodbye.</Say></Response>`,
		baseURL, notify.SanitizeVoiceText(text))
}

// hangupTwiml speaks text and ends the call.
func hangupTwiml(text string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Response><Say voice="alice" language="en-IN">%s</Say><Hangup/></Response>`,
		notify.SanitizeVoiceText(text))
}

// errorTwiml is the answer of last resort. No inputs, cannot fail.
func errorTwiml() string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Say voice="alice" language="en-IN">Sorry, there was a connection issue. We will call you back. Goodbye.</Say><Hangup/></Response>`
}

func writeTwiml(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// ─── Webhook Handlers ───────────────────────────────────────────────────────

// handleReplyWebhook processes an inbound WhatsApp/SMS message. The
// provider only needs an empty acknowledgement; all real work happens in
// the conversation controller.
func (s *Server) handleReplyWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTwiml(w, emptyTwiml)
		return
	}
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" || body == "" {
		writeTwiml(w, emptyTwiml)
		return
	}

	if err := s.controller.HandleTextReply(r.Context(), from, body); err != nil {
		log.Printf("[api] reply webhook failed: %v", err)
	}
	writeTwiml(w, emptyTwiml)
}

// handleVoiceWebhook processes one turn of a live call and answers with
// TwiML that either continues the conversation or hangs up.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTwiml(w, errorTwiml())
		return
	}
	from := r.PostForm.Get("From")
	to := r.PostForm.Get("To")
	speech := r.PostForm.Get("SpeechResult")

	reply, err := s.controller.HandleVoiceTurn(r.Context(), from, to, speech)
	if err != nil {
		log.Printf("[api] voice webhook state update failed: %v", err)
	}
	if reply.Text == "" {
		writeTwiml(w, errorTwiml())
		return
	}
	if reply.EndCall {
		writeTwiml(w, hangupTwiml(reply.Text))
		return
	}
	writeTwiml(w, gatherTwiml(reply.Text, s.baseURL))
}
