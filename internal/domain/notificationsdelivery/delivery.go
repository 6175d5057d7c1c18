package notificationsdelivery

import "errors"

// Deliveries dedupe sends across job retries: a job that crashed after the
// provider call must not mail the attendee twice when it is reclaimed.

var ErrAlreadySent = errors.New("notification already sent")
var ErrInProgress = errors.New("notification send in progress")
