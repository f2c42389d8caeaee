// Package plan holds the task plan data model: ordered tasks with
// dependency edges, status transitions, and the renumbering operations
// used by decomposition. It is pure data, no I/O.
package plan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// IsTerminal returns true if the task is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Result is the observation payload recorded after executing a task's tool.
// Output is free-form (typically a map decoded from tool JSON output).
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AttemptRecord is one entry of a task's append-only execution history.
type AttemptRecord struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Attempt int    `json:"attempt"`
}

// DefaultMaxAttempts is the retry ceiling applied to tasks that do not
// specify their own.
const DefaultMaxAttempts = 3

// Task is a single unit of plan work. Position is 1-based, unique within a
// plan at any instant, and is the dependency-reference key.
type Task struct {
	Position           int             `json:"position"`
	Description        string          `json:"description"`
	AcceptanceCriteria string          `json:"acceptance_criteria"`
	Dependencies       []int           `json:"dependencies"`
	Status             Status          `json:"status"`
	ChosenTool         string          `json:"chosen_tool,omitempty"`
	ToolInput          map[string]any  `json:"tool_input,omitempty"`
	ExecutionResult    *Result         `json:"execution_result,omitempty"`
	Attempts           int             `json:"attempts"`
	MaxAttempts        int             `json:"max_attempts"`
	ReplanCount        int             `json:"replan_count"`
	ExecutionHistory   []AttemptRecord `json:"execution_history,omitempty"`
}

// RecordAttempt appends one execution record and bumps the attempt counter.
func (t *Task) RecordAttempt(tool string, success bool, errMsg string) {
	t.Attempts++
	t.ExecutionHistory = append(t.ExecutionHistory, AttemptRecord{
		Tool:    tool,
		Success: success,
		Error:   errMsg,
		Attempt: t.Attempts,
	})
}

// RetryExhausted returns true once the task has used up its retry budget.
func (t *Task) RetryExhausted() bool {
	max := t.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return t.Attempts >= max
}

// Plan is the ordered, dependency-annotated collection of tasks for one
// mission. It is mutated in place by the execution loop (status, attempts,
// results) and by the replanner (structural edits).
type Plan struct {
	ID            string   `json:"id"`
	Mission       string   `json:"mission"`
	Items         []Task   `json:"items"`
	OpenQuestions []string `json:"open_questions,omitempty"`
}

// New creates an empty plan for a mission with a fresh identifier.
func New(mission string) *Plan {
	return &Plan{
		ID:      uuid.NewString(),
		Mission: mission,
	}
}

// Get returns the task at the given position, or nil.
func (p *Plan) Get(position int) *Task {
	for i := range p.Items {
		if p.Items[i].Position == position {
			return &p.Items[i]
		}
	}
	return nil
}

// Insert places a task at the given position. Every existing task whose
// position is >= at is renumbered by +1, and dependency references pointing
// at or past the insertion point are shifted to keep pointing at the same
// logical task.
func (p *Plan) Insert(t Task, at int) {
	for i := range p.Items {
		if p.Items[i].Position >= at {
			p.Items[i].Position++
		}
		for j, dep := range p.Items[i].Dependencies {
			if dep >= at {
				p.Items[i].Dependencies[j] = dep + 1
			}
		}
	}
	t.Position = at
	if t.MaxAttempts == 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	p.Items = append(p.Items, t)
	p.sort()
}

// Decompose removes the task at position pos and inserts the given subtasks
// in its place. Subtasks occupy positions pos..pos+N-1 and inherit the
// removed task's dependencies and replan count. Positions and dependency
// references past the removed task shift by N-1, and tasks that depended on
// the removed task are redirected to the last inserted subtask.
func (p *Plan) Decompose(pos int, subtasks []Task) error {
	orig := p.Get(pos)
	if orig == nil {
		return fmt.Errorf("decompose: no task at position %d", pos)
	}
	if len(subtasks) == 0 {
		return fmt.Errorf("decompose: no subtasks for position %d", pos)
	}

	replans := orig.ReplanCount + 1
	shift := len(subtasks) - 1
	last := pos + len(subtasks) - 1

	// Inherited references past the removed position shift with the
	// survivors they point at.
	inherited := make([]int, 0, len(orig.Dependencies))
	for _, dep := range orig.Dependencies {
		if dep > pos {
			dep += shift
		}
		inherited = append(inherited, dep)
	}

	// Drop the failing task.
	kept := make([]Task, 0, len(p.Items)-1+len(subtasks))
	for _, item := range p.Items {
		if item.Position == pos {
			continue
		}
		kept = append(kept, item)
	}

	// Renumber survivors and rewrite their dependency references.
	for i := range kept {
		if kept[i].Position > pos {
			kept[i].Position += shift
		}
		for j, dep := range kept[i].Dependencies {
			switch {
			case dep == pos:
				kept[i].Dependencies[j] = last
			case dep > pos:
				kept[i].Dependencies[j] = dep + shift
			}
		}
	}

	for i, sub := range subtasks {
		sub.Position = pos + i
		sub.Status = StatusPending
		sub.Dependencies = append([]int(nil), inherited...)
		sub.ReplanCount = replans
		if sub.MaxAttempts == 0 {
			sub.MaxAttempts = DefaultMaxAttempts
		}
		kept = append(kept, sub)
	}

	p.Items = kept
	p.sort()
	return nil
}

// Validate checks that every dependency references an existing position and
// that no dependency cycle exists among non-skipped tasks. Skipped tasks are
// transparent: edges into or through them are ignored by the cycle check.
func (p *Plan) Validate() error {
	byPos := make(map[int]*Task, len(p.Items))
	for i := range p.Items {
		t := &p.Items[i]
		if _, dup := byPos[t.Position]; dup {
			return fmt.Errorf("duplicate position %d", t.Position)
		}
		byPos[t.Position] = t
	}

	for i := range p.Items {
		for _, dep := range p.Items[i].Dependencies {
			if _, ok := byPos[dep]; !ok {
				return fmt.Errorf("task %d depends on missing position %d", p.Items[i].Position, dep)
			}
		}
	}

	// DFS with recursion-stack tracking over non-skipped tasks.
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[int]int, len(p.Items))

	var visit func(pos int) error
	visit = func(pos int) error {
		t := byPos[pos]
		if t == nil || t.Status == StatusSkipped {
			return nil
		}
		switch state[pos] {
		case inStack:
			return fmt.Errorf("dependency cycle through task %d", pos)
		case done:
			return nil
		}
		state[pos] = inStack
		for _, dep := range t.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[pos] = done
		return nil
	}

	for i := range p.Items {
		if err := visit(p.Items[i].Position); err != nil {
			return err
		}
	}
	return nil
}

// depsSatisfied reports whether every dependency of t is in terminal-success
// state. A dependency on a skipped task counts as satisfied.
func (p *Plan) depsSatisfied(t *Task) bool {
	for _, dep := range t.Dependencies {
		d := p.Get(dep)
		if d == nil {
			return false
		}
		if d.Status != StatusCompleted && d.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// NextActionable selects the next runnable task: the first pending task (by
// ascending position) whose dependencies are all satisfied, otherwise a
// failed task that still has retry budget. Returns nil when nothing can run.
func (p *Plan) NextActionable() *Task {
	for i := range p.Items {
		t := &p.Items[i]
		if t.Status == StatusPending && p.depsSatisfied(t) {
			return t
		}
	}
	for i := range p.Items {
		t := &p.Items[i]
		if t.Status == StatusFailed && !t.RetryExhausted() && p.depsSatisfied(t) {
			return t
		}
	}
	return nil
}

// IsComplete reports whether the plan finished successfully. An empty plan
// is never complete: it is a planning failure, not a success.
func (p *Plan) IsComplete() bool {
	if len(p.Items) == 0 {
		return false
	}
	for i := range p.Items {
		switch p.Items[i].Status {
		case StatusCompleted, StatusSkipped:
		default:
			return false
		}
	}
	return true
}

// IsTerminal reports whether every task reached a final state, regardless of
// outcome. A session whose plan is terminal starts a fresh plan on the next
// mission.
func (p *Plan) IsTerminal() bool {
	if len(p.Items) == 0 {
		return false
	}
	for i := range p.Items {
		if !p.Items[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (p *Plan) sort() {
	sort.Slice(p.Items, func(i, j int) bool {
		return p.Items[i].Position < p.Items[j].Position
	})
}
