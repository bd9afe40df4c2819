package entity

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{Pending, Processing, Completed, Failed}

func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}
