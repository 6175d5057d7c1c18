package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/aivent/aivent/internal/domain/job"
)

func EncodeEmailPayload(p EmailPayload) (json.RawMessage, error) {
	if err := ValidateEmailPayload(p); err != nil {
		return nil, err
	}

	b, err := json.Marshal(p)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return json.RawMessage(b), nil
}

// DecodeEmailPayload unmarshals job.Payload into the typed payload struct.
func DecodeEmailPayload(j job.Job) (EmailPayload, error) {
	if !IsValidType(j.Type) {
		return EmailPayload{}, ErrInvalidJobType
	}
	if len(j.Payload) == 0 {
		return EmailPayload{}, ErrInvalidJobPayload
	}

	var p EmailPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return EmailPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if err := ValidateEmailPayload(p); err != nil {
		return EmailPayload{}, err
	}

	return p, nil
}
