package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/opinion-topics/internal/analyzer"
	"github.com/xaenox/opinion-topics/internal/models"
)

const (
	maxListedTopics = 20
	timeLayout      = "2006-01-02 15:04 MST"
)

var welcomeText = escapeMarkdown(`Welcome to the opinion analysis bot! 📊
I group the opinions collected for a project into topics and keep them up to date as new ones arrive.

Use /help to see all available commands.`)

var helpText = escapeMarkdown(`Available commands:
/start - Start the bot
/help - Show this help message
/analyze <project> [force] [reason] - Classify new opinions (force re-classifies all)
/status <project> - Show the running or last analysis
/topics <project> - Show the project's topics
/history <project> - Show recent analysis runs`)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

func formatResult(project *models.Project, res *analyzer.RunResult) string {
	name := escapeMarkdown(project.Name)
	if res == nil {
		return fmt.Sprintf("❌ Analysis of *%s* did not start", name)
	}
	if res.Failed() {
		text := fmt.Sprintf("❌ Analysis of *%s* failed\n", name)
		if res.Batches > 0 {
			text += escapeMarkdown(fmt.Sprintf("Committed %d of %d batches (%d opinions).\n",
				res.BatchesCommitted, res.Batches, res.Processed))
		}
		if res.Err != nil {
			text += fmt.Sprintf("_%s_", escapeMarkdown(res.Err.Error()))
		}
		return text
	}

	if res.Processed == 0 {
		return fmt.Sprintf("✅ *%s* is up to date, nothing to analyze", name)
	}
	text := fmt.Sprintf("✅ Analysis of *%s* completed\n", name)
	text += escapeMarkdown(fmt.Sprintf("Mode: %s\nOpinions processed: %d\nNew topics: %d\nUpdated topics: %d\nTook: %s",
		res.Mode, res.Processed, res.NewTopicsCreated, res.UpdatedTopics, res.Duration.Round(time.Millisecond)))
	if !res.Mirrored || !res.HistoryRecorded {
		text += "\n" + escapeMarkdown("⚠️ Not every result reached the mirror store yet; it will be retried.")
	}
	return text
}

func formatStatus(project *models.Project, progress *models.SessionProgress) string {
	text := fmt.Sprintf("*%s*\n", escapeMarkdown(project.Name))
	if progress != nil {
		line := fmt.Sprintf("Running: %s, %d%%", progress.Phase, progress.Progress)
		if progress.Message != "" {
			line += " (" + progress.Message + ")"
		}
		return text + escapeMarkdown(line)
	}
	if !project.IsAnalyzed || project.LastAnalysisAt == nil {
		return text + escapeMarkdown("Not analyzed yet.")
	}
	return text + escapeMarkdown(fmt.Sprintf("Last analysis: %s\nOpinions analyzed: %d",
		project.LastAnalysisAt.UTC().Format(timeLayout), project.LastAnalyzedOpinionsCount))
}

func formatTopics(project *models.Project, topics []*models.Topic) string {
	if len(topics) == 0 {
		return fmt.Sprintf("*%s* has no topics yet\\.", escapeMarkdown(project.Name))
	}

	sorted := make([]*models.Topic, len(topics))
	copy(sorted, topics)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	var b strings.Builder
	fmt.Fprintf(&b, "*Topics of %s:*\n\n", escapeMarkdown(project.Name))
	for i, t := range sorted {
		if i == maxListedTopics {
			b.WriteString(escapeMarkdown(fmt.Sprintf("...and %d more", len(sorted)-maxListedTopics)))
			break
		}
		fmt.Fprintf(&b, "%s *%s* %s\n", escapeMarkdown(fmt.Sprintf("%d.", i+1)),
			escapeMarkdown(t.Name), escapeMarkdown(fmt.Sprintf("(%d)", t.Count)))
		if t.Summary != "" {
			fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(t.Summary))
		}
		if len(t.Keywords) > 0 {
			tags := make([]string, len(t.Keywords))
			for j, k := range t.Keywords {
				tags[j] = escapeMarkdown("#" + strings.ReplaceAll(k, " ", "_"))
			}
			b.WriteString(strings.Join(tags, " ") + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(project *models.Project, history []*models.AnalysisHistory) string {
	if len(history) == 0 {
		return fmt.Sprintf("*%s* has not been analyzed yet\\.", escapeMarkdown(project.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Recent analyses of %s:*\n\n", escapeMarkdown(project.Name))
	for _, h := range history {
		fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(h.CreatedAt.UTC().Format(timeLayout)))
		b.WriteString(escapeMarkdown(fmt.Sprintf("%s by %s: %d opinions, %d new topics, %d updated in %.1fs",
			h.AnalysisType, h.ExecutedBy, h.OpinionsProcessed, h.NewTopicsCreated, h.UpdatedTopics, h.ExecutionTimeSeconds)))
		b.WriteByte('\n')
		if h.ExecutionReason != "" {
			fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(h.ExecutionReason))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
