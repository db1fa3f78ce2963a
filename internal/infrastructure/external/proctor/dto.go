package proctor

// StatusResponse is the provider's status endpoint payload. Field names
// follow the provider's wire format, including the underscored override pair.
type StatusResponse struct {
	Status   string       `json:"Status"`
	Sessions []SessionDTO `json:"Sessions"`
}

// SessionDTO is one proctored session within a status response.
type SessionDTO struct {
	Start          string `json:"Start"`
	End            string `json:"End"`
	Status         string `json:"Status"`
	OverrideDate   string `json:"Override_Date,omitempty"`
	OverrideStatus string `json:"Override_Status,omitempty"`
}

// EffectiveStatus resolves the status text the normalizer should classify.
//
// With no sessions the top-level Status stands. Otherwise the session with
// the greatest End wins (timestamps are ISO-8601, so lexicographic order is
// chronological order), and a reviewer override on that session supersedes
// its recorded status.
func (r StatusResponse) EffectiveStatus() string {
	if len(r.Sessions) == 0 {
		return r.Status
	}

	winner := r.Sessions[0]
	for _, s := range r.Sessions[1:] {
		if s.End > winner.End {
			winner = s
		}
	}

	if winner.OverrideDate != "" && winner.OverrideStatus != "" {
		return winner.OverrideStatus
	}
	if winner.Status != "" {
		return winner.Status
	}
	return r.Status
}
