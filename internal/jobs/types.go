package jobs

import "github.com/aivent/aivent/internal/mail"

// Every notification travels as a single job type; the template id inside the
// payload selects the mail. This mirrors the wire contract with the worker:
// {templateId, to, params}.
const TypeEmailSend = "email.send"

func IsValidType(t string) bool {
	return t == TypeEmailSend
}

// EmailPayload is the wire format between producers and the worker.
type EmailPayload struct {
	TemplateID mail.Template     `json:"templateId"`
	To         string            `json:"to"`
	Params     map[string]string `json:"params"`
}
