package state

// NopStore discards everything. Used when persistence is not configured.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) SaveSession(*SessionRecord) error                  { return nil }
func (NopStore) GetSession(string) (*SessionRecord, error)         { return nil, nil }
func (NopStore) ListSessions() ([]*SessionRecord, error)           { return nil, nil }
func (NopStore) SaveTaskResult(*TaskResultRecord) error            { return nil }
func (NopStore) ListTaskResults(string) ([]*TaskResultRecord, error) { return nil, nil }
func (NopStore) Close() error                                      { return nil }
