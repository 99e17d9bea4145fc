package logger

// Intention represents the semantic intent of a log line, orthogonal to level.
// It lets us keep emojis out of source while still emitting meaningful icons
// at the console and structured attributes in logs.
type Intention string

const (
	IntentionSession  Intention = "session"
	IntentionDelivery Intention = "delivery"
	IntentionChannel  Intention = "channel"
	IntentionStatus   Intention = "status"
	IntentionWarning  Intention = "warning" // no icon mapping; level handles emphasis
	IntentionError    Intention = "error"   // no icon mapping; level handles emphasis
	IntentionSuccess  Intention = "success"
	IntentionDebug    Intention = "debug"
	IntentionConfig   Intention = "config"
)

// iconFor returns a short emoji string for console output for the intention.
func iconFor(i Intention) string {
	switch i {
	case IntentionSession:
		return "🔌"
	case IntentionDelivery:
		return "📨"
	case IntentionChannel:
		return "↩"
	case IntentionStatus:
		return "ℹ️"
	case IntentionSuccess:
		return "✅"
	case IntentionDebug:
		return "🛠️"
	case IntentionConfig:
		return "⚙️"
	default:
		return "➤"
	}
}
