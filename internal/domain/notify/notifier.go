package notify

// FinalizeSummary is the per-status tally reported when a session closes.
type FinalizeSummary struct {
	Present      int
	NotAvailable int
	Missed       int
}

// Notifier pushes session lifecycle announcements to the administrators'
// channel. This decouples the application logic from the messaging library.
type Notifier interface {
	SessionActivated(sessionKey string, participantCount int) error
	SessionFinalized(sessionKey string, summary FinalizeSummary, auto bool) error
}

// NopNotifier is used when no notification channel is configured.
type NopNotifier struct{}

func (NopNotifier) SessionActivated(string, int) error { return nil }

func (NopNotifier) SessionFinalized(string, FinalizeSummary, bool) error { return nil }
