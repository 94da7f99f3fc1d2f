package sched

import "time"

// Token identifies one arming of a Slot.
type Token uint64

// Slot holds at most one armed task. Arming always cancels the previous task
// first. A Slot is not safe for concurrent use; the owner guards it with the
// same lock that guards the state the callback touches.
type Slot struct {
	task Task
	gen  Token
}

// Arm cancels any armed task and schedules f. The callback receives the token
// of this arming; it must check Live under the owner's lock before acting,
// because a real timer may already be running when Cancel is called.
func (s *Slot) Arm(sch Scheduler, d time.Duration, f func(Token)) Token {
	s.Cancel()
	s.gen++
	tok := s.gen
	s.task = sch.AfterFunc(d, func() { f(tok) })
	return tok
}

// Cancel stops the armed task, if any.
func (s *Slot) Cancel() {
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
	s.gen++
}

// Live reports whether tok belongs to the currently armed task.
func (s *Slot) Live(tok Token) bool {
	return s.task != nil && s.gen == tok
}

// Release marks the armed task as consumed. Callbacks call it once they have
// confirmed they are live.
func (s *Slot) Release(tok Token) {
	if s.Live(tok) {
		s.task = nil
	}
}

// Armed reports whether a task is waiting to fire.
func (s *Slot) Armed() bool { return s.task != nil }
