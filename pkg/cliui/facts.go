package cliui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/utils"
)

var (
	RankStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	ScoreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	EntityStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	RelationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	HeaderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	DimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	KeyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ValueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

const contextPreviewChars = 80

// FactLine renders a fact as "subject --[relation]--> object".
func FactLine(f graph.Fact) string {
	return fmt.Sprintf("%s %s %s",
		EntityStyle.Render(f.Subject),
		RelationStyle.Render("--["+f.Relation+"]-->"),
		EntityStyle.Render(f.Object),
	)
}

// PrintFacts writes a ranked fact listing under a header.
func PrintFacts(w io.Writer, header string, facts []graph.Fact) {
	if len(facts) == 0 {
		fmt.Fprintln(w, "No facts found.")
		return
	}

	fmt.Fprintf(w, "\n%s\n\n", HeaderStyle.Render(header))

	for i, f := range facts {
		score := fmt.Sprintf("confidence: %.2f", f.Confidence)
		if f.Similarity != nil {
			score = fmt.Sprintf("similarity: %.4f  %s", *f.Similarity, score)
		}

		fmt.Fprintf(w, "  %s  %s\n", RankStyle.Render(fmt.Sprintf("#%d", i+1)), FactLine(f))
		fmt.Fprintf(w, "      %s\n", ScoreStyle.Render(score))

		if f.Context != "" {
			preview := strings.ReplaceAll(f.Context, "\n", " ")
			fmt.Fprintf(w, "      %s\n", DimStyle.Render(utils.Truncate(preview, contextPreviewChars)))
		}
	}

	fmt.Fprintln(w)
}

// PrintScoredEntities writes entities ranked by similarity.
func PrintScoredEntities(w io.Writer, header string, entities []graph.ScoredEntity) {
	if len(entities) == 0 {
		fmt.Fprintln(w, "No similar entities found.")
		return
	}

	fmt.Fprintf(w, "\n%s\n\n", HeaderStyle.Render(header))

	for i, e := range entities {
		fmt.Fprintf(w, "  %s  %s %s  %s\n",
			RankStyle.Render(fmt.Sprintf("#%d", i+1)),
			EntityStyle.Render(e.Name),
			DimStyle.Render("("+e.Type+")"),
			ScoreStyle.Render(fmt.Sprintf("similarity: %.4f", e.Similarity)),
		)
	}

	fmt.Fprintln(w)
}

// PrintMentions writes an entity's mentions, newest first as returned by the store.
func PrintMentions(w io.Writer, header string, mentions []graph.Mention) {
	if len(mentions) == 0 {
		fmt.Fprintln(w, "No mentions found.")
		return
	}

	fmt.Fprintf(w, "\n%s\n\n", HeaderStyle.Render(header))

	for _, m := range mentions {
		fmt.Fprintf(w, "  %s %s\n",
			DimStyle.Render(m.CreatedAt.Format("2006-01-02 15:04")),
			m.MentionText,
		)
		if m.Source != "" {
			fmt.Fprintf(w, "      %s\n", ScoreStyle.Render(m.Source+" "+m.SourceID))
		}
	}

	fmt.Fprintln(w)
}
