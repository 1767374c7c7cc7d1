package gpu

// ReleaseStack collects release functions in acquisition order and runs them in
// reverse. A constructor pushes one entry per object it creates and, on failure,
// calls Release so partially built state never leaks.
type ReleaseStack struct {
	fns []func()
}

func (s *ReleaseStack) Push(fn func()) {
	s.fns = append(s.fns, fn)
}

func (s *ReleaseStack) Len() int {
	return len(s.fns)
}

// Release runs every pushed function, newest first, and empties the stack.
func (s *ReleaseStack) Release() {
	for i := len(s.fns) - 1; i >= 0; i-- {
		s.fns[i]()
	}
	s.fns = nil
}

// Take moves the pushed functions into a new stack, leaving s empty. Constructors
// use it to hand ownership to the finished object once nothing else can fail.
func (s *ReleaseStack) Take() *ReleaseStack {
	taken := &ReleaseStack{fns: s.fns}
	s.fns = nil
	return taken
}
