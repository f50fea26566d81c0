package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultTokenBudget is the split threshold inherited from the original
// tooling's completion-window sizing.
const DefaultTokenBudget = 31000

// Fragment is the unit of work submitted for execution: either a whole
// conversation or one half of a split one.
type Fragment struct {
	Title         string
	OriginalTitle string
	PartLabel     string
	SplitGroupID  string
	SourceFile    string
	Format        Format
	Messages      []string
	TokenCount    int
}

// IsSplit reports whether the fragment is one half of a split conversation.
func (f Fragment) IsSplit() bool {
	return f.PartLabel != "" && f.PartLabel != "1/1"
}

// SplitConversation partitions a conversation's messages against a token
// budget. At or under budget the conversation stays whole; over budget it is
// cut once at the message midpoint into two fragments sharing a fresh split
// group id. Splitting is exactly binary and single-level: halves are never
// re-split, so a conversation far over budget can still produce oversized
// fragments. That limitation is intentional.
func SplitConversation(conv Conversation, messages []string, budget int, counter TokenCounter) []Fragment {
	base := Fragment{
		Title:         conv.Title,
		OriginalTitle: conv.Title,
		PartLabel:     "1/1",
		SourceFile:    conv.SourceFile,
		Format:        conv.Format,
	}

	if len(messages) == 0 {
		return []Fragment{base}
	}

	count := counter.Count(strings.Join(messages, "\n"))
	if count <= budget {
		base.Messages = messages
		return []Fragment{base}
	}

	groupID := uuid.New().String()
	mid := len(messages) / 2

	first := base
	first.Title = fmt.Sprintf("%s (Partie 1/2)", conv.Title)
	first.PartLabel = "1/2"
	first.SplitGroupID = groupID
	first.Messages = messages[:mid]

	second := base
	second.Title = fmt.Sprintf("%s (Partie 2/2)", conv.Title)
	second.PartLabel = "2/2"
	second.SplitGroupID = groupID
	second.Messages = messages[mid:]

	return []Fragment{first, second}
}
