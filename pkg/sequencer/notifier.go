package sequencer

// Notifier is the toast surface informed of operation outcomes. Calls are
// best effort and must not block.
type Notifier interface {
	Success(msg string)
	Failure(msg string, err error)
}

// LogNotifier writes notifications to a Logger.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Success(msg string) {
	n.Logger.Infof("%s", msg)
}

func (n LogNotifier) Failure(msg string, err error) {
	n.Logger.Errorf("%s: %v", msg, err)
}
