package pipeline

import (
	"encoding/json"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Format identifies one of the known conversation-export schemas.
type Format string

const (
	FormatChatGPT Format = "chatgpt"
	FormatLeChat  Format = "lechat"
	FormatClaude  Format = "claude"
	FormatUnknown Format = "unknown"

	// FormatAuto is only valid as a loader directive, never on a Conversation.
	FormatAuto Format = "auto"
)

// DefaultTitle is used whenever an export carries no usable title.
const DefaultTitle = "Sans titre"

// Conversation is one imported chat-export unit. Payload keeps the decoded
// document element as an opaque mapping; Raw keeps the element's bytes for
// walks that must preserve JSON document order.
type Conversation struct {
	Title      string
	SourceFile string
	Format     Format
	Payload    map[string]any
	Raw        json.RawMessage
}

// Schema is one export dialect: it recognizes documents, wraps them into
// conversations at load time, and knows how to count and extract messages.
type Schema interface {
	Format() Format
	Detect(doc any) bool
	Load(doc any, raw []byte, filename string) []Conversation
	MessageCount(conv Conversation) int
	ExtractMessages(conv Conversation) []string
}

// schemaChain is the ordered detection chain. LeChat comes last because flat
// message arrays are recognized by elimination.
var schemaChain = []Schema{chatGPTSchema{}, claudeSchema{}, leChatSchema{}}

// DetectFormat classifies a decoded JSON document structurally. Unknown
// structures classify as FormatUnknown; nothing here ever panics on
// malformed or partial documents.
func DetectFormat(doc any, filename string) Format {
	for _, s := range schemaChain {
		if s.Detect(doc) {
			return s.Format()
		}
	}
	return FormatUnknown
}

// SchemaFor returns the schema implementation for a format, or nil for
// unknown/auto.
func SchemaFor(f Format) Schema {
	for _, s := range schemaChain {
		if s.Format() == f {
			return s
		}
	}
	return nil
}

// ExtractMessages flattens a conversation into ordered message texts.
// Unknown formats yield an empty sequence.
func ExtractMessages(conv Conversation) []string {
	s := SchemaFor(conv.Format)
	if s == nil {
		return nil
	}
	return s.ExtractMessages(conv)
}

// ---- ChatGPT ----

type chatGPTSchema struct{}

func (chatGPTSchema) Format() Format { return FormatChatGPT }

func (chatGPTSchema) Detect(doc any) bool {
	arr, ok := doc.([]any)
	if !ok {
		return false
	}
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			_, has := m["mapping"]
			return has
		}
	}
	return false
}

func (chatGPTSchema) Load(doc any, raw []byte, filename string) []Conversation {
	arr, ok := doc.([]any)
	if !ok {
		return nil
	}

	// Keep the raw bytes of each element so the mapping container can later
	// be walked in document order.
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		raws = nil
	}

	convs := make([]Conversation, 0, len(arr))
	for i, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		var elRaw json.RawMessage
		if i < len(raws) {
			elRaw = raws[i]
		}
		convs = append(convs, Conversation{
			Title:      displayTitle(m),
			SourceFile: filepath.Base(filename),
			Format:     FormatChatGPT,
			Payload:    m,
			Raw:        elRaw,
		})
	}
	return convs
}

func (chatGPTSchema) MessageCount(conv Conversation) int {
	mapping, ok := conv.Payload["mapping"].(map[string]any)
	if !ok {
		return 0
	}
	n := 0
	for _, v := range mapping {
		node, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if node["message"] != nil {
			n++
		}
	}
	return n
}

type chatGPTNode struct {
	Message *chatGPTMessage `json:"message"`
}

type chatGPTMessage struct {
	Content json.RawMessage `json:"content"`
}

func (chatGPTSchema) ExtractMessages(conv Conversation) []string {
	if len(conv.Raw) == 0 {
		return nil
	}
	var probe struct {
		Mapping json.RawMessage `json:"mapping"`
	}
	if err := json.Unmarshal(conv.Raw, &probe); err != nil || len(probe.Mapping) == 0 {
		return nil
	}

	// Go maps do not preserve key order; the export's node order is the
	// document order, so decode the mapping through an ordered map.
	mapping := orderedmap.New[string, chatGPTNode]()
	if err := json.Unmarshal(probe.Mapping, mapping); err != nil {
		return nil
	}

	var out []string
	for pair := mapping.Oldest(); pair != nil; pair = pair.Next() {
		node := pair.Value
		if node.Message == nil {
			continue
		}
		if text := messageContentText(node.Message.Content); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// messageContentText flattens a ChatGPT message content object. The common
// shape is {"content_type":"text","parts":["..."]}; tool content may carry
// a plain "text" field instead. Non-string parts are skipped.
func messageContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var probe struct {
		Parts []any  `json:"parts"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	var parts []string
	for _, p := range probe.Parts {
		if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	return strings.TrimSpace(probe.Text)
}

// ---- Claude ----

type claudeSchema struct{}

func (claudeSchema) Format() Format { return FormatClaude }

func (claudeSchema) Detect(doc any) bool {
	switch d := doc.(type) {
	case []any:
		for _, el := range d {
			if m, ok := el.(map[string]any); ok {
				_, has := m["chat_messages"]
				return has
			}
		}
		return false
	case map[string]any:
		_, has := d["chat_messages"]
		return has
	default:
		return false
	}
}

func (s claudeSchema) Load(doc any, raw []byte, filename string) []Conversation {
	base := filepath.Base(filename)
	switch d := doc.(type) {
	case []any:
		convs := make([]Conversation, 0, len(d))
		for _, el := range d {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			convs = append(convs, s.wrap(m, base))
		}
		return convs
	case map[string]any:
		return []Conversation{s.wrap(d, base)}
	default:
		return nil
	}
}

func (claudeSchema) wrap(m map[string]any, sourceFile string) Conversation {
	if stringField(m, "title") == "" && stringField(m, "name") == "" {
		m["title"] = claudeFallbackTitle(m)
	}
	return Conversation{
		Title:      displayTitle(m),
		SourceFile: sourceFile,
		Format:     FormatClaude,
		Payload:    m,
	}
}

// claudeFallbackTitle derives a title from the conversation uuid when the
// export has neither title nor name.
func claudeFallbackTitle(m map[string]any) string {
	u := stringField(m, "uuid")
	if u == "" {
		return "Claude - " + DefaultTitle
	}
	if len(u) > 8 {
		u = u[:8]
	}
	return "Claude - " + u
}

func (claudeSchema) MessageCount(conv Conversation) int {
	msgs, ok := conv.Payload["chat_messages"].([]any)
	if !ok {
		return 0
	}
	return len(msgs)
}

func (claudeSchema) ExtractMessages(conv Conversation) []string {
	msgs, ok := conv.Payload["chat_messages"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, el := range msgs {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if text := claudeMessageText(m); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// claudeMessageText prefers the flat "text" field and falls back to joining
// the typed content blocks newer exports use.
func claudeMessageText(m map[string]any) string {
	if text := strings.TrimSpace(stringField(m, "text")); text != "" {
		return text
	}
	blocks, ok := m["content"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		bm, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t := strings.TrimSpace(stringField(bm, "text")); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// ---- LeChat ----

type leChatSchema struct{}

func (leChatSchema) Format() Format { return FormatLeChat }

func (leChatSchema) Detect(doc any) bool {
	switch d := doc.(type) {
	case []any:
		// By elimination: a flat array of message objects that carries none
		// of the other schemas' signature keys.
		for _, el := range d {
			if _, ok := el.(map[string]any); ok {
				return true
			}
		}
		return false
	case map[string]any:
		if _, ok := d["messages"]; ok {
			return true
		}
		_, ok := d["exchanges"]
		return ok
	default:
		return false
	}
}

func (leChatSchema) Load(doc any, raw []byte, filename string) []Conversation {
	base := filepath.Base(filename)
	switch d := doc.(type) {
	case []any:
		// A bare message array becomes one synthetic conversation titled
		// from the file name.
		payload := map[string]any{
			"title":    leChatTitleFromFilename(base),
			"messages": d,
		}
		return []Conversation{{
			Title:      displayTitle(payload),
			SourceFile: base,
			Format:     FormatLeChat,
			Payload:    payload,
		}}
	case map[string]any:
		if stringField(d, "title") == "" {
			d["title"] = strings.TrimSuffix(base, filepath.Ext(base))
		}
		return []Conversation{{
			Title:      displayTitle(d),
			SourceFile: base,
			Format:     FormatLeChat,
			Payload:    d,
		}}
	default:
		return nil
	}
}

// leChatTitleFromFilename strips the exporter's filename decorations.
func leChatTitleFromFilename(base string) string {
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.TrimPrefix(title, "chat-")
	title = strings.TrimPrefix(title, "AI_exportation_")
	title = strings.TrimSuffix(title, "_conversations")
	if title == "" {
		return "Conversation LeChat"
	}
	return title
}

func (leChatSchema) messages(conv Conversation) []any {
	if msgs, ok := conv.Payload["messages"].([]any); ok {
		return msgs
	}
	if msgs, ok := conv.Payload["exchanges"].([]any); ok {
		return msgs
	}
	return nil
}

func (s leChatSchema) MessageCount(conv Conversation) int {
	return len(s.messages(conv))
}

func (s leChatSchema) ExtractMessages(conv Conversation) []string {
	var out []string
	for _, el := range s.messages(conv) {
		switch m := el.(type) {
		case map[string]any:
			if text := leChatMessageText(m); text != "" {
				out = append(out, text)
			}
		case string:
			if strings.TrimSpace(m) != "" {
				out = append(out, m)
			}
		}
	}
	return out
}

func leChatMessageText(m map[string]any) string {
	for _, key := range []string{"content", "text", "message", "body"} {
		if text := strings.TrimSpace(stringField(m, key)); text != "" {
			return text
		}
	}
	return ""
}

// ---- shared helpers ----

func stringField(m map[string]any, key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return v
}

// displayTitle resolves the user-facing title with the original export's
// fallback chain: title, then name, then the default.
func displayTitle(m map[string]any) string {
	if t := stringField(m, "title"); t != "" {
		return t
	}
	if n := stringField(m, "name"); n != "" {
		return n
	}
	return DefaultTitle
}
