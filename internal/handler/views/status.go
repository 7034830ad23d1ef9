// Package views renders the HTML pages served by the handler package.
package views

//go:generate templ generate

// StatusData is the content of the status page. All strings are already
// localized; empty lines are skipped.
type StatusData struct {
	Title      string
	Running    string
	Rank       string
	TotalXP    string
	Streak     string
	Tests      string
	EliteDay   string
	Focus      string
	Generation string
}

func (d StatusData) lines() []string {
	var out []string
	for _, l := range []string{d.Rank, d.TotalXP, d.Streak, d.Tests, d.EliteDay, d.Focus, d.Generation} {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
