package jobs

import "strings"

// ValidateEmailPayload performs minimal validation before a payload is
// accepted into the queue or executed by the worker.
func ValidateEmailPayload(p EmailPayload) error {
	if !p.TemplateID.IsValid() {
		return ErrInvalidJobPayload
	}

	if strings.TrimSpace(p.To) == "" {
		return ErrInvalidJobPayload
	}

	return nil
}
