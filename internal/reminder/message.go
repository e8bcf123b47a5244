package reminder

import (
	"bytes"
	htmltemplate "html/template"
	"text/template"
	"time"

	"cftrack/internal/mailer"
	"cftrack/internal/model"
)

const subject = "Time to get back to practice"

type messageData struct {
	Name     string
	Handle   string
	Days     int
	LastSeen string
}

var textTmpl = template.Must(template.New("text").Parse(`Hi {{.Name}},

We have not seen a submission{{if .Handle}} from {{.Handle}}{{end}} in the last {{.Days}} days{{if .LastSeen}} (last one on {{.LastSeen}}){{end}}.
Solving even one problem today keeps the streak going.

You can turn these reminders off from your profile page.
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<p>Hi {{.Name}},</p>
<p>We have not seen a submission{{if .Handle}} from <strong>{{.Handle}}</strong>{{end}} in the last {{.Days}} days{{if .LastSeen}} (last one on {{.LastSeen}}){{end}}.</p>
<p>Solving even one problem today keeps the streak going.</p>
<p style="font-size: 12px; color: #666;">You can turn these reminders off from your profile page.</p>
</body></html>`))

func buildMessage(st model.Student, lastActivity time.Time, threshold time.Duration) (mailer.Message, error) {
	name := st.Name
	if name == "" {
		name = "there"
	}
	d := messageData{Name: name, Handle: st.Handle, Days: max(int(threshold.Hours()/24), 1)}
	if !lastActivity.IsZero() {
		d.LastSeen = lastActivity.UTC().Format("2006-01-02")
	}
	var txt, html bytes.Buffer
	if err := textTmpl.Execute(&txt, d); err != nil {
		return mailer.Message{}, err
	}
	if err := htmlTmpl.Execute(&html, d); err != nil {
		return mailer.Message{}, err
	}
	return mailer.Message{To: st.Email, ToName: st.Name, Subject: subject, Text: txt.String(), HTML: html.String()}, nil
}
