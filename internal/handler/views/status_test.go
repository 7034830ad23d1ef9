package views

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPageEscapes(t *testing.T) {
	var buf bytes.Buffer
	err := StatusPage(StatusData{
		Title:   "Onimate Scholar",
		Running: "backend running",
		Rank:    "Rank: <Novice>",
	}).Render(context.Background(), &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<title>Onimate Scholar</title>")
	assert.Contains(t, out, "<h1>backend running</h1>")
	assert.Contains(t, out, "Rank: &lt;Novice&gt;")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("<li>")))
}

func TestStatusPageSkipsEmptyLines(t *testing.T) {
	var buf bytes.Buffer
	err := StatusPage(StatusData{
		Title:    "t",
		TotalXP:  "Total XP: 10",
		EliteDay: "Rest day",
	}).Render(context.Background(), &buf)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "<ul><li>Total XP: 10</li><li>Rest day</li></ul>")
}
