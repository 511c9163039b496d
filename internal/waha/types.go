package waha

// Requests and payloads for the WAHA (WhatsApp HTTP API) endpoints this
// bot touches.

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendImageRequest struct {
	Session string    `json:"session"`
	ChatID  string    `json:"chatId"`
	File    imageFile `json:"file"`
	Caption string    `json:"caption,omitempty"`
}

type imageFile struct {
	MimeType string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data"` // base64
}

// Session mirrors GET /api/sessions/{name}.
type Session struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Event is one webhook delivery (also the WS frame shape).
type Event struct {
	ID      string  `json:"id"`
	Event   string  `json:"event"`
	Session string  `json:"session"`
	Payload Message `json:"payload"`
}

// Message is the inbound chat message payload.
type Message struct {
	ID     string      `json:"id"`
	From   string      `json:"from"`
	FromMe bool        `json:"fromMe"`
	Body   string      `json:"body"`
	Data   MessageData `json:"_data"`
}

type MessageData struct {
	NotifyName string `json:"notifyName"`
}

// SenderName prefers the push name, falling back to the bare phone.
func (m Message) SenderName() string {
	if m.Data.NotifyName != "" {
		return m.Data.NotifyName
	}
	return PhoneFromJID(m.From)
}
