package container

// Registration binds a scope to up to three worker generations.
type Registration struct {
	Scope string

	c *Container

	// guarded by c.mu
	scriptURL  string
	installing *Worker
	waiting    *Worker
	active     *Worker
}

// Installing returns the worker currently installing, if any.
func (r *Registration) Installing() *Worker {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.installing
}

// Waiting returns the installed worker waiting to activate, if any.
func (r *Registration) Waiting() *Worker {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.waiting
}

// Active returns the active worker, if any.
func (r *Registration) Active() *Worker {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.active
}

// ScriptURL returns the script URL of the newest worker.
func (r *Registration) ScriptURL() string {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.scriptURL
}

func (r *Registration) newest() *Worker {
	switch {
	case r.installing != nil:
		return r.installing
	case r.waiting != nil:
		return r.waiting
	default:
		return r.active
	}
}

func (r *Registration) workers() []*Worker {
	var out []*Worker
	for _, w := range []*Worker{r.installing, r.waiting, r.active} {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}
