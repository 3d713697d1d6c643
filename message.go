package websocket

// Message is a text message exchanged with a handler.
// It hides the wire level fields of a Frame.
type Message struct {
	text string
}

// NewMessage returns a Message carrying s.
func NewMessage(s string) Message {
	return Message{text: s}
}

// MessageFromFrame returns the Message carried by f.
func MessageFromFrame(f *Frame) Message {
	return Message{text: f.Message}
}

// Frame returns the final, unmasked text frame carrying m.
func (m Message) Frame() *Frame {
	p := []byte(m.text)
	return &Frame{
		Fin:     true,
		Opcode:  OpText,
		Length:  uint64(len(p)),
		Data:    p,
		Message: m.text,
	}
}

func (m Message) String() string {
	return m.text
}

// Bytes returns the text of m as bytes.
func (m Message) Bytes() []byte {
	return []byte(m.text)
}
