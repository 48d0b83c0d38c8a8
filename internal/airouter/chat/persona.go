package chat

// Persona is the system instruction every conversation starts with.
const Persona = `You are FinTab's personal finance assistant. Speak in the first person, ` +
	`keep answers concise and practical, and focus on budgeting, saving, spending ` +
	`insights and card management. Never ask for or repeat account numbers, card ` +
	`numbers or government identifiers. If a question needs live market or news ` +
	`data you do not have, say that you don't have real-time data.`

// Prepare bounds the conversation to the last window turns, redacts user
// content and prepends the persona.
func Prepare(msgs []Message, window int) []Message {
	msgs = RedactUser(Truncate(msgs, window))

	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: RoleSystem, Content: Persona})
	return append(out, msgs...)
}
