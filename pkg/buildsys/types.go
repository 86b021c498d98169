package buildsys

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrDuplicateTask is returned when a task name is declared twice without override
	ErrDuplicateTask = eris.New("duplicate task")
	// ErrUnknownTask is returned when a task refers to a name that was never declared
	ErrUnknownTask = eris.New("unknown task")
	// ErrCycle is returned when the task graph contains a dependency cycle
	ErrCycle = eris.New("dependency cycle")
)

type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) ToTask() (*Task, error) {
	return nil, nil
}

func (s TaskCmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	result, err := parser.Parse(strings.NewReader(s.Content), fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

type TaskCmdTaskRef struct {
	Task *Task
}

func (t TaskCmdTaskRef) ToTask() (*Task, error) {
	return t.Task, nil
}

func (t TaskCmdTaskRef) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

// TaskCmd is a single entry in a task's command list
type TaskCmd interface {
	ToTask() (*Task, error)
	ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// ActionEnv is passed to actions when they're executed
type ActionEnv struct {
	ProjectRoot string
	Task        *Task
	Tasks       TaskList
	Options     RunOptions
}

// TaskAction is a command implemented in Go instead of a shell statement
type TaskAction interface {
	TaskCmd
	Describe() string
	Execute(ctx context.Context, env ActionEnv) error
}

// Task contains the processed values passed to task() by the task script
type Task struct {
	Env          map[string]string
	Short        string
	Desc         string
	Base         string
	Pos          string
	Inputs       []string
	Deps         []string
	SkipIfExists []string
	Outputs      []string
	Cmds         []TaskCmd
	Hidden       bool
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// Register adds task to the list. A name can only be declared once unless override is set in which case
// the new declaration replaces the previous one. The replaced task is returned.
func (l TaskList) Register(task *Task, override bool) (*Task, error) {
	prev, found := l[task.Short]
	if found && !override {
		return nil, eris.Wrapf(ErrDuplicateTask, "task %s declared at %s was already declared at %s (pass override=True to replace it)",
			task.Short, task.Pos, prev.Pos)
	}

	l[task.Short] = task
	return prev, nil
}

// Names returns the sorted names of all tasks
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// edges returns the names a task depends on through deps, task refs or watch targets
func (t *Task) edges() []string {
	result := append([]string{}, t.Deps...)
	for _, cmd := range t.Cmds {
		switch value := cmd.(type) {
		case *WatchAction:
			result = append(result, value.Target)
		case TaskCmdTaskRef:
			if value.Task == nil {
				continue
			}
			if strings.HasPrefix(value.Task.Short, anonymousPrefix) {
				result = append(result, value.Task.edges()...)
			} else {
				result = append(result, value.Task.Short)
			}
		}
	}
	return result
}

// Validate makes sure that every referenced task exists and that there are no dependency cycles.
func (l TaskList) Validate() error {
	names := l.Names()
	for _, name := range names {
		for _, dep := range l[name].edges() {
			if _, ok := l[dep]; !ok {
				return eris.Wrapf(ErrUnknownTask, "task %s refers to %s", name, dep)
			}
		}
	}

	const (
		visiting = iota + 1
		done
	)
	state := make(map[string]int, len(l))
	stack := make([]string, 0)

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			start := 0
			for idx, item := range stack {
				if item == name {
					start = idx
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), name)
			return eris.Wrapf(ErrCycle, "%s", strings.Join(cycle, " -> "))
		}

		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range l[name].edges() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Implement starlark.Value for *Task

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

// Type always returns "task" to indicate this type
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks are immutable anyway
func (t *Task) Freeze() {}

// Truth always returns true since a task can't be nil or None
func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since task is not hashable
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}

// StarlarkAction wraps a TaskAction so that scripts can pass it around and put it into a cmds list
type StarlarkAction struct {
	Action TaskAction
}

func (a *StarlarkAction) String() string {
	return "<Action " + a.Action.Describe() + ">"
}

func (a *StarlarkAction) Type() string {
	return "action"
}

func (a *StarlarkAction) Freeze() {}

func (a *StarlarkAction) Truth() starlark.Bool {
	return starlark.True
}

func (a *StarlarkAction) Hash() (uint32, error) {
	return 0, eris.New("action is not a hashable type")
}

type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p StarlarkPath) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p StarlarkPath) Len() int {
	return len(p)
}

func (p StarlarkPath) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}
