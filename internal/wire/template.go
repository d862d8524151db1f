package wire

import (
	"encoding/hex"
	"fmt"
)

// realRequestTemplate is a verified brand-new-conversation request captured
// with query="你好呀" (9 UTF-8 bytes). Building a from-scratch Request for a
// genuinely new conversation is the one mode that is safer done by surgical
// substitution into this known-good byte string than by re-assembling every
// field from the schema.
var realRequestTemplate = mustHex("0a00125a0a430a1e0a0d2f55736572732f6c6f66796572120d2f55736572732f6c6f6679657212070a054d61634f531a0a0a037a73681203352e39220c08eeb8d3cb0610908ef0bd0232130a110a0f0a09e4bda0e5a5bde591801a0020011a660a210a0f636c617564652d342d352d6f707573220e636c692d6167656e742d6175746f1001180120013001380140014a1306070c08090f0e000b100a141113120203010d500158016001680170017801800101880101a80101b201070a1406070c0201b801012264121e0a0a656e747279706f696e7412101a0e555345525f494e4954494154454412200a1a69735f6175746f5f726573756d655f61667465725f6572726f721202200012200a1a69735f6175746f64657465637465645f757365725f717565727912022001")

const (
	templateQueryOffset = 80
	templateQueryLen    = 9
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("wire: invalid template hex: %v", err))
	}
	return b
}

func encodeVarint(v uint64) []byte {
	var out []byte
	for v > 127 {
		out = append(out, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(out, byte(v))
}

// BuildNewConversation substitutes text into the verified template's
// user_query.query field and recomputes every enclosing length prefix
// (user_query, user_input, inputs, user_inputs, Input), leaving context,
// settings and metadata untouched.
func BuildNewConversation(text string) []byte {
	template := realRequestTemplate
	if len(template) < templateQueryOffset+templateQueryLen {
		panic("wire: template too short")
	}

	newQuery := []byte(text)

	// user_query content: 0a <len> <query> 1a 00 20 01
	// (field 1 query, field 3 attachments_bytes=empty, field 4 is_new_conversation=true)
	userQueryContent := append([]byte{0x0a}, encodeVarint(uint64(len(newQuery)))...)
	userQueryContent = append(userQueryContent, newQuery...)
	userQueryContent = append(userQueryContent, 0x1a, 0x00, 0x20, 0x01)

	// user_input: 0a <len> <user_query_content>  (field 1 of UserInput)
	userInputContent := append([]byte{0x0a}, encodeVarint(uint64(len(userQueryContent)))...)
	userInputContent = append(userInputContent, userQueryContent...)

	// inputs (UserInputs.inputs, field 1, repeated): 0a <len> <user_input_content>
	inputsContent := append([]byte{0x0a}, encodeVarint(uint64(len(userInputContent)))...)
	inputsContent = append(inputsContent, userInputContent...)

	// user_inputs (Input.user_inputs, field 6): 32 <len> <inputs_content>
	userInputsContent := append([]byte{0x32}, encodeVarint(uint64(len(inputsContent)))...)
	userInputsContent = append(userInputsContent, inputsContent...)

	// Input.context is the 67-byte span starting right after the 2-byte
	// TaskContext (0a 00) and 2-byte Input tag+len (12 5a).
	const contextStart = 4
	const contextLen = 67
	userInputsStart := contextStart + contextLen
	if template[userInputsStart] != 0x32 {
		panic("wire: template layout drifted, expected 0x32 user_inputs tag")
	}

	contextPart := template[contextStart:userInputsStart]
	newInputContent := append(append([]byte{}, contextPart...), userInputsContent...)

	// Input message: 12 <len> <content>  (field 2 of Request)
	newInputMsg := append([]byte{0x12}, encodeVarint(uint64(len(newInputContent)))...)
	newInputMsg = append(newInputMsg, newInputContent...)

	// Everything after the original 90-byte Input content (Settings, Metadata)
	// is unaffected by the query swap and is copied through unchanged.
	const originalInputLen = 90
	restStart := 2 + 2 + originalInputLen
	rest := template[restStart:]

	out := append([]byte{0x0a, 0x00}, newInputMsg...)
	out = append(out, rest...)
	return out
}
