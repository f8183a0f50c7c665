package delivery

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// EpisodeDetails carries everything the notification email mentions.
type EpisodeDetails struct {
	ShowTitle    string
	Season       int
	Episode      int
	EpisodeTitle string
	Summary      string
	AiredAt      time.Time
	DurationMins int
}

// Code renders the SxxEyy episode code.
func (d EpisodeDetails) Code() string {
	return fmt.Sprintf("S%02dE%02d", d.Season, d.Episode)
}

// EpisodeMessage builds the notification email for a new episode.
func EpisodeMessage(to string, d EpisodeDetails) Message {
	subject := fmt.Sprintf("New episode: %s %s", d.ShowTitle, d.Code())
	if d.EpisodeTitle != "" {
		subject += " - " + d.EpisodeTitle
	}

	var text strings.Builder
	fmt.Fprintf(&text, "A new episode of %s is available.\n\n", d.ShowTitle)
	fmt.Fprintf(&text, "Episode: %s", d.Code())
	if d.EpisodeTitle != "" {
		fmt.Fprintf(&text, " - %s", d.EpisodeTitle)
	}
	text.WriteString("\n")
	if !d.AiredAt.IsZero() {
		fmt.Fprintf(&text, "Aired: %s\n", d.AiredAt.Format("January 2, 2006"))
	}
	if d.DurationMins > 0 {
		fmt.Fprintf(&text, "Runtime: %d minutes\n", d.DurationMins)
	}
	if d.Summary != "" {
		fmt.Fprintf(&text, "\n%s\n", d.Summary)
	}

	var body strings.Builder
	body.WriteString("<html><body>")
	fmt.Fprintf(&body, "<h2>%s</h2>", html.EscapeString(d.ShowTitle))
	fmt.Fprintf(&body, "<p><strong>%s</strong>", d.Code())
	if d.EpisodeTitle != "" {
		fmt.Fprintf(&body, " &mdash; %s", html.EscapeString(d.EpisodeTitle))
	}
	body.WriteString("</p>")
	if !d.AiredAt.IsZero() {
		fmt.Fprintf(&body, "<p>Aired %s</p>", d.AiredAt.Format("January 2, 2006"))
	}
	if d.DurationMins > 0 {
		fmt.Fprintf(&body, "<p>Runtime %d minutes</p>", d.DurationMins)
	}
	if d.Summary != "" {
		fmt.Fprintf(&body, "<p>%s</p>", html.EscapeString(d.Summary))
	}
	body.WriteString("</body></html>")

	return Message{
		To:       to,
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: body.String(),
	}
}
