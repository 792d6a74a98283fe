package assistant

// Field carries an optional action attribute. An unset field means "leave
// unchanged"; Null marks an explicit JSON null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func Some[T any](value T) Field[T] {
	return Field[T]{Set: true, Value: value}
}

func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// Get returns the value when the field carries one.
func (f Field[T]) Get() (T, bool) {
	if !f.Set || f.Null {
		var zero T
		return zero, false
	}
	return f.Value, true
}

const (
	KindAddTask      = "add_task"
	KindDeleteTask   = "delete_task"
	KindUpdateTask   = "update_task"
	KindCompleteTask = "complete_task"
)

// Action is one of AddTask, DeleteTask, UpdateTask or CompleteTask.
type Action interface {
	Kind() string
	isAction()
}

type AddTask struct {
	Title    string
	Notes    Field[string]
	DueAtISO Field[string]
	Priority Field[string]
	ParentID Field[int64]
}

type DeleteTask struct {
	ID int64
}

type UpdateTask struct {
	ID            int64
	Title         Field[string]
	Notes         Field[string]
	DueAtISO      Field[string]
	Priority      Field[string]
	ParentID      Field[int64]
	OrderInParent Field[int]
}

type CompleteTask struct {
	ID int64
}

func (AddTask) Kind() string      { return KindAddTask }
func (DeleteTask) Kind() string   { return KindDeleteTask }
func (UpdateTask) Kind() string   { return KindUpdateTask }
func (CompleteTask) Kind() string { return KindCompleteTask }

func (AddTask) isAction()      {}
func (DeleteTask) isAction()   {}
func (UpdateTask) isAction()   {}
func (CompleteTask) isAction() {}

// Envelope is one decoded assistant turn.
type Envelope struct {
	Say     *string
	Actions []Action
}
