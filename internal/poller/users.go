package poller

import (
	"context"
	"fmt"
	"strings"

	"telecast/internal/eligibility"
	"telecast/internal/logging"
)

// Recipient is a user who may receive notifications this cycle.
type Recipient struct {
	Email          string
	Username       string
	TautulliUserID int64
}

// NormalizeEmail lowercases an address so case-variant spellings of the same
// mailbox share one bookkeeping identity.
func NormalizeEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return strings.ToLower(addr)
	}
	return strings.ToLower(addr[:at]) + strings.ToLower(addr[at:])
}

// discoverRecipients intersects the history service's users with the media
// server's account whitelist. Users without an email address are skipped, as
// is the notifier's own sending address. Without a history service the
// whitelist stands alone and eligibility rides the subscription fallback.
func (p *Poller) discoverRecipients(ctx context.Context) ([]Recipient, error) {
	accountUsers, err := p.plex.AccountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("account users: %w", err)
	}
	whitelist := make(map[string]string, len(accountUsers))
	for _, user := range accountUsers {
		if user.Email == "" {
			continue
		}
		whitelist[NormalizeEmail(user.Email)] = user.Username
	}

	fromAddr := NormalizeEmail(p.sender.From())

	var recipients []Recipient
	seen := make(map[string]bool)
	appendRecipient := func(r Recipient) {
		if r.Email == "" || r.Email == fromAddr || seen[r.Email] {
			if r.Email == "" {
				p.logger.Debug("skipping user without email",
					logging.String("username", r.Username))
			}
			return
		}
		seen[r.Email] = true
		recipients = append(recipients, r)
	}

	if p.tautulli == nil {
		for email, username := range whitelist {
			appendRecipient(Recipient{Email: email, Username: username})
		}
		return recipients, nil
	}

	historyUsers, err := p.tautulli.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("history users: %w", err)
	}
	for _, user := range historyUsers {
		if !user.Active {
			continue
		}
		email := NormalizeEmail(user.Email)
		if email == "" {
			p.logger.Debug("skipping history user without email",
				logging.String("username", user.Username))
			continue
		}
		if _, ok := whitelist[email]; !ok {
			continue
		}
		appendRecipient(Recipient{
			Email:          email,
			Username:       user.Username,
			TautulliUserID: user.UserID,
		})
	}
	return recipients, nil
}

func (r Recipient) eligibilityUser() eligibility.User {
	return eligibility.User{Email: r.Email, TautulliUserID: r.TautulliUserID}
}
