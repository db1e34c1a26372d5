package core

// InitChain runs named initialization stages in order and stops at the first failure.
// Stages that completed before the failure are torn down in reverse order.
type InitChain struct {
	stages    []initStage
	completed []initStage
}

type initStage struct {
	name     string
	run      func() error
	teardown func()
}

func NewInitChain() *InitChain {
	return &InitChain{}
}

// Then appends a stage. teardown may be nil.
func (c *InitChain) Then(name string, run func() error, teardown func()) *InitChain {
	c.stages = append(c.stages, initStage{name: name, run: run, teardown: teardown})
	return c
}

// Run executes the pending stages. The returned error is a *StageError naming the
// first stage that failed.
func (c *InitChain) Run() error {
	for _, s := range c.stages {
		LogDebug("init stage `%s`...", s.name)
		if err := s.run(); err != nil {
			LogError("init stage `%s` failed: %s", s.name, err)
			c.Unwind()
			return NewInitError(s.name, err)
		}
		c.completed = append(c.completed, s)
	}
	c.stages = nil
	return nil
}

// Unwind tears down every completed stage, newest first.
func (c *InitChain) Unwind() {
	for i := len(c.completed) - 1; i >= 0; i-- {
		if td := c.completed[i].teardown; td != nil {
			LogDebug("tearing down stage `%s`", c.completed[i].name)
			td()
		}
	}
	c.completed = nil
	c.stages = nil
}

// Completed returns the names of stages that ran successfully, in order.
func (c *InitChain) Completed() []string {
	names := make([]string, 0, len(c.completed))
	for _, s := range c.completed {
		names = append(names, s.name)
	}
	return names
}
