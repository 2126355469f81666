package domain

const (
	CourseStatusOngoing = "Ongoing"
	CourseApproved      = "APPROVED"
)

type Course struct {
	ID       string
	Title    string
	Price    int64
	Status   string
	Approval string
}

func (c *Course) Purchasable() bool {
	return c.Status == CourseStatusOngoing && c.Approval == CourseApproved
}

// User is the read-only collaborator record used for notifications.
type User struct {
	ID    string
	Email string
	Name  string
}
