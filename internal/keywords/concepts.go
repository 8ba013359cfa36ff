package keywords

// Concept is a cluster of terms that talk about the same thing.
type Concept struct {
	Label string
	Terms []string
	// Bonus is added to a similarity score when a topic and an opinion both
	// mention the concept.
	Bonus int
}

// Concepts is ordered; earlier entries win ties.
var Concepts = []Concept{
	{
		Label: "Pricing",
		Terms: []string{"price", "prices", "pricing", "cost", "costs", "fee", "fees", "expensive", "cheap",
			"billing", "bill", "charge", "charged", "pay", "payment", "subscription", "refund", "invoice", "money"},
		Bonus: 5,
	},
	{
		Label: "Performance",
		Terms: []string{"slow", "fast", "speed", "latency", "lag", "laggy", "loading", "load", "freeze",
			"freezes", "timeout", "performance", "quick", "sluggish"},
		Bonus: 5,
	},
	{
		Label: "Reliability",
		Terms: []string{"bug", "bugs", "crash", "crashes", "error", "errors", "broken", "fail", "fails",
			"failure", "glitch", "issue", "issues", "problem", "down", "outage"},
		Bonus: 4,
	},
	{
		Label: "Usability",
		Terms: []string{"confusing", "easy", "hard", "difficult", "intuitive", "design", "interface", "ui",
			"ux", "navigation", "layout", "button", "menu", "usability", "clunky"},
		Bonus: 4,
	},
	{
		Label: "Support",
		Terms: []string{"support", "help", "service", "staff", "agent", "contact", "reply", "response",
			"helpdesk", "answer", "rude", "friendly"},
		Bonus: 3,
	},
	{
		Label: "Features",
		Terms: []string{"feature", "features", "missing", "option", "options", "request", "wish", "add",
			"integration", "export", "import"},
		Bonus: 3,
	},
}

// DefaultConceptLabel names opinions that match no concept.
const DefaultConceptLabel = "General"

// Mentions reports whether any of the concept's terms is a word of set.
func (c Concept) Mentions(set map[string]struct{}) bool {
	for _, term := range c.Terms {
		if _, ok := set[term]; ok {
			return true
		}
	}
	return false
}

// Hits counts the concept's terms present in set.
func (c Concept) Hits(set map[string]struct{}) int {
	n := 0
	for _, term := range c.Terms {
		if _, ok := set[term]; ok {
			n++
		}
	}
	return n
}

// Categorize picks the concept with the most term hits in text. Ties go to
// the earlier concept; no hits yields DefaultConceptLabel.
func Categorize(text string) string {
	set := WordSet(text)
	best, label := 0, DefaultConceptLabel
	for _, c := range Concepts {
		if n := c.Hits(set); n > best {
			best, label = n, c.Label
		}
	}
	return label
}
