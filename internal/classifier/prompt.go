package classifier

import (
	"fmt"
	"strings"

	"github.com/xaenox/opinion-topics/internal/models"
)

const promptHeader = `Group the opinions below into topics.

For every opinion either reference the number of an existing topic that fits it,
or propose a new topic with a short name, a one-sentence summary and a few keywords.
Give each decision a confidence between 0 and 1 and a short reason.
Every opinion must be classified exactly once. Prefer existing topics over new ones
and reuse the same new topic name for opinions that belong together.`

// BuildPrompt renders one request for the whole batch.
func BuildPrompt(batch []*models.Opinion, existing []*models.Topic) string {
	var b strings.Builder

	b.WriteString(promptHeader)
	b.WriteString("\n\n")

	if len(existing) == 0 {
		b.WriteString("There are no existing topics yet; propose new topics only.\n")
	} else {
		b.WriteString("Existing topics:\n")
		for i, t := range existing {
			fmt.Fprintf(&b, "%d. %s (%d opinions)", i+1, oneLine(t.Name), t.Count)
			if t.Summary != "" {
				fmt.Fprintf(&b, " - %s", oneLine(t.Summary))
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nOpinions:\n")
	for i, o := range batch {
		fmt.Fprintf(&b, "%d. %s\n", i+1, oneLine(o.Content))
	}

	b.WriteString("\nAnswer with JSON matching this schema:\n")
	b.WriteString(ResponseSchema())
	b.WriteByte('\n')

	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
