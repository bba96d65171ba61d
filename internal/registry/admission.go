package registry

import (
	"github.com/yoockh/meetbot/internal/models"
)

type Outcome string

const (
	Admitted Outcome = "admitted"
	Attached Outcome = "attached"
	Rejected Outcome = "rejected"
)

const ReasonBusy = "busy"

// AdmitResult is the admission decision for one join request. SessionID is
// the new session on Admitted and the existing one on Attached.
type AdmitResult struct {
	Outcome   Outcome
	SessionID string
	Reason    string
}

// TryAdmit decides and inserts in one critical section:
//   - an active session for the same meeting wins (Attached),
//   - otherwise the global ceiling is checked (Rejected, ReasonBusy),
//   - otherwise candidate is inserted (Admitted).
func (r *Registry) TryAdmit(candidate *models.Session) AdmitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, s := range r.sessions {
		if !s.Active() {
			continue
		}
		if s.MeetingID == candidate.MeetingID {
			return AdmitResult{Outcome: Attached, SessionID: s.SessionID}
		}
		active++
	}

	if r.maxActive > 0 && active >= r.maxActive {
		return AdmitResult{Outcome: Rejected, Reason: ReasonBusy}
	}

	r.insertLocked(candidate)
	return AdmitResult{Outcome: Admitted, SessionID: candidate.SessionID}
}
