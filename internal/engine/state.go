package engine

// MissionStatus is the terminal (or paused) status of a mission run.
type MissionStatus string

const (
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
	MissionPaused    MissionStatus = "paused"
)

// State is the in-flight mission execution state. It is mutated by the
// engine as the loop progresses and observed by hooks.
type State struct {
	SessionID string
	Mission   string

	// History is the full conversation as sent to the model, before
	// any budget compression.
	History []ChatMessage

	Iteration int
	Status    MissionStatus

	// FinalMessage is set when Status reaches a terminal value, or
	// holds the pending question while paused.
	FinalMessage string

	TotalInputTokens  int
	TotalOutputTokens int
}

// AddUsage accumulates token usage from one LLM response.
func (st *State) AddUsage(u Usage) {
	st.TotalInputTokens += u.Prompt
	st.TotalOutputTokens += u.Completion
}

// AppendMessage appends a message to the conversation history.
func (st *State) AppendMessage(m ChatMessage) {
	st.History = append(st.History, m)
}
