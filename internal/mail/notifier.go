package mail

import (
	"bytes"
	"context"
	"net/url"
	"text/template"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "verification"}}Hi {{.Name}},

Welcome aboard. Confirm your account by opening the link below:

{{.Link}}

Your confirmation code is {{.Code}}.
{{end}}
{{define "confirmed"}}Hi {{.Name}},

Your account is confirmed. You can sign in now.
{{end}}
{{define "reset"}}Hi {{.Name}},

We received a request to reset your password. The link below is valid for 15 minutes:

{{.Link}}

If you did not ask for this, you can ignore this email.
{{end}}
{{define "password_changed"}}Hi {{.Name}},

Your password was just changed. If this was not you, reset it right away.
{{end}}
`))

type templateData struct {
	Name string
	Link string
	Code string
}

// Notifier renders account emails and hands them to a Sender. Confirmation
// links hit the API directly. Reset links open resetURL, the page that
// collects the new password and posts it back to the API.
type Notifier struct {
	sender   Sender
	apiURL   string
	resetURL string
}

func NewNotifier(sender Sender, apiURL, resetURL string) *Notifier {
	return &Notifier{sender: sender, apiURL: apiURL, resetURL: resetURL}
}

func (n *Notifier) SendVerification(ctx context.Context, email, name, token, code string) error {
	link := n.apiURL + "/auth/confirm/" + url.PathEscape(token) + "?code=" + url.QueryEscape(code)
	return n.send(ctx, email, "Confirm your account", "verification", templateData{Name: name, Link: link, Code: code})
}

func (n *Notifier) SendConfirmed(ctx context.Context, email, name string) error {
	return n.send(ctx, email, "Your account is confirmed", "confirmed", templateData{Name: name})
}

func (n *Notifier) SendResetLink(ctx context.Context, email, name, token string) error {
	link := n.resetURL + "/" + url.PathEscape(token)
	return n.send(ctx, email, "Reset your password", "reset", templateData{Name: name, Link: link})
}

func (n *Notifier) SendPasswordChanged(ctx context.Context, email, name string) error {
	return n.send(ctx, email, "Your password was changed", "password_changed", templateData{Name: name})
}

func (n *Notifier) send(ctx context.Context, to, subject, tmpl string, data templateData) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{To: to, Subject: subject, Body: body.String()})
}
