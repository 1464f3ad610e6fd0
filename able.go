package costack

// A Runner is a coroutine body carried by a value.
type Runner interface {
	Run()
}

// Able turns a value into a coroutine. Embed it, implement Run, and call
// Start with the embedding value:
//
//	type walker struct {
//		costack.Able
//		steps int
//	}
//
//	func (w *walker) Run() {
//		for i := 0; i < w.steps; i++ {
//			w.Yield()
//		}
//	}
//
//	w := &walker{steps: 3}
//	w.Start(rt, w)
//
// Yield is only valid from inside Run.
type Able struct {
	handle *Handle
	task   *Task
}

type ableArgs struct {
	a *Able
	r Runner
}

func ableMain(t *Task, data any) {
	args := data.(ableArgs)
	args.a.task = t
	args.r.Run()
}

// Start spawns r.Run on rt. r must be the value embedding a. Starting an
// Able that already owns a coroutine detaches the old one.
func (a *Able) Start(rt *Runtime, r Runner) {
	h := rt.Spawn(ableMain, ableArgs{a: a, r: r})
	if a.handle == nil {
		a.handle = &Handle{}
	}
	h.MoveTo(a.handle)
}

// Resume resumes the coroutine running Run. It reports false once Run has
// returned or before Start.
func (a *Able) Resume() bool {
	if a.handle == nil {
		return false
	}
	return a.handle.Resume()
}

// Yield suspends Run until the next Resume.
func (a *Able) Yield() {
	if a.task == nil {
		contractViolation("yield outside of a coroutine")
	}
	a.task.Yield()
}

// Release drops ownership of the coroutine; Run continues unresumable.
func (a *Able) Release() {
	if a.handle != nil {
		a.handle.Release()
	}
}

// Handle returns the handle owning the coroutine, nil before Start.
func (a *Able) Handle() *Handle {
	return a.handle
}
