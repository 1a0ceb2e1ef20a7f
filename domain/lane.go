package domain

// Lane is a named swimlane. Collapsed, TasksLoaded and Loading are client-side
// view state kept alongside the server fields.
type Lane struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Completed   bool   `json:"completed"`
	Collapsed   bool   `json:"collapsed"`
	TasksLoaded bool   `json:"tasksLoaded"`
	Loading     bool   `json:"loading"`
}

// Snapshot is a full board state: the initial-state payload and the cached form.
// Deferred lists active lanes whose tasks were never fetched.
type Snapshot struct {
	Lanes    []Lane `json:"lanes"`
	Tasks    []Task `json:"tasks"`
	Deferred []ID   `json:"deferred,omitempty"`
}
