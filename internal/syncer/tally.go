package syncer

// Tally is the outcome of a batch run, keyed by whatever the batch iterates
// over: channel ids for refreshes, handles for seeding.
type Tally struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

type Failure struct {
	Key     string `json:"key"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (t *Tally) Succeed(key string) {
	t.Succeeded = append(t.Succeeded, key)
}

func (t *Tally) Fail(key string, err error) {
	t.Failed = append(t.Failed, Failure{Key: key, Message: err.Error(), Err: err})
}
