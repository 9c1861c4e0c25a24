package tools

// Instructable is implemented by toolsets whose server describes how its
// tools should be used.
type Instructable interface {
	Instructions() string
}

// GetInstructions returns the instructions of ts, or "" when it has none.
func GetInstructions(ts ToolSet) string {
	if i, ok := As[Instructable](ts); ok {
		return i.Instructions()
	}
	return ""
}
