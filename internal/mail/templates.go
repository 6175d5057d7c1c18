package mail

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
)

// Template identifies one of the transactional mails. The values are the wire
// enum shared with producers; they end up inside job payloads, so renaming one
// is a breaking change for in-flight jobs.
type Template string

const (
	TemplateRegistrationAccepted Template = "REGISTRATION_ACCEPTED"
	TemplateEventCancelled       Template = "EVENT_CANCELLED"
	TemplateSubscriptionSuccess  Template = "SUBSCRIPTION_SUCCESS"
)

func (t Template) IsValid() bool {
	switch t {
	case TemplateRegistrationAccepted, TemplateEventCancelled, TemplateSubscriptionSuccess:
		return true
	default:
		return false
	}
}

var ErrUnknownTemplate = errors.New("unknown mail template")

const appName = "Aivent"

type spec struct {
	subject string
	body    *template.Template
}

var registry = map[Template]spec{
	TemplateRegistrationAccepted: {
		subject: "Your Event Registration is Accepted",
		body: template.Must(template.New("registration_accepted").Parse(`
<h2>Hi {{.userName}},</h2>
<p>Your registration for <strong>{{.eventName}}</strong> is confirmed.</p>
<p>Date: {{.date}}<br/>Time: {{.time}}{{if .venue}}<br/>Venue: {{.venue}}{{end}}</p>
<p>Show the QR code in your tickets page at the entrance.</p>
<p>— {{.appName}}</p>`)),
	},
	TemplateEventCancelled: {
		subject: "Event Cancelled",
		body: template.Must(template.New("event_cancelled").Parse(`
<h2>Hi {{.userName}},</h2>
<p>We are sorry: <strong>{{.eventName}}</strong> scheduled for {{.date}} has been cancelled by the organizer.</p>
<p>Your registration has been cancelled and no further action is needed.</p>
<p>— {{.appName}}</p>`)),
	},
	TemplateSubscriptionSuccess: {
		subject: "Subscription Activated",
		body: template.Must(template.New("subscription_success").Parse(`
<h2>Hi {{.name}},</h2>
<p>Your <strong>{{.planName}}</strong> subscription is active from {{.startDate}} to {{.endDate}}.</p>
{{if .dashboardLink}}<p><a href="{{.dashboardLink}}">Open your dashboard</a></p>{{end}}
<p>— {{.appName}}</p>`)),
	},
}

// Render resolves a template id and produces the subject and HTML body for
// the given params. Unknown ids are a permanent error: retrying a job with a
// template the worker does not know cannot ever succeed.
func Render(id Template, params map[string]string) (subject string, html string, err error) {
	sp, ok := registry[id]

	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}

	data := make(map[string]string, len(params)+1)

	for k, v := range params {
		data[k] = v
	}

	if _, set := data["appName"]; !set {
		data["appName"] = appName
	}

	var buf bytes.Buffer

	if err := sp.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", id, err)
	}

	return sp.subject, buf.String(), nil
}
