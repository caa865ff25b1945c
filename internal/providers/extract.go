package providers

import "github.com/ChatGPT-CN/chat-ai/internal/jsonvalue"

const shapePreviewLimit = 200

// ChoicesText reads the chat-completions shape: choices[0].message.content.
func ChoicesText(body jsonvalue.Value) (string, bool) {
	choices, ok := body.Field("choices")
	if !ok || choices.Kind() != jsonvalue.Array || choices.Len() == 0 {
		return "", false
	}
	first, _ := choices.Index(0)
	msg, ok := first.Field("message")
	if !ok {
		return "", false
	}
	content, ok := msg.Field("content")
	if !ok {
		return "", false
	}
	return content.Str()
}

// ContentBlocksText reads the messages shape: content[0].text.
func ContentBlocksText(body jsonvalue.Value) (string, bool) {
	content, ok := body.Field("content")
	if !ok || content.Kind() != jsonvalue.Array || content.Len() == 0 {
		return "", false
	}
	first, _ := content.Index(0)
	text, ok := first.Field("text")
	if !ok {
		return "", false
	}
	return text.Str()
}

func ShapeError(provider string, body jsonvalue.Value) error {
	return &ExtractionError{Provider: provider, Shape: body.Preview(shapePreviewLimit)}
}
