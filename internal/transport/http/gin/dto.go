package httpgin

type RegisterRequest struct {
	Email       string  `json:"email" binding:"required,email"`
	FirstName   string  `json:"firstName" binding:"required"`
	LastName    string  `json:"lastName" binding:"required"`
	EventID     int64   `json:"eventId" binding:"required,gt=0"`
	ContactInfo *string `json:"contactInfo"`
	Source      string  `json:"source" binding:"required,max=64"`
}

type RegisterUserRequest struct {
	UserID  int64  `json:"userId" binding:"required,gt=0"`
	EventID int64  `json:"eventId" binding:"required,gt=0"`
	Source  string `json:"source" binding:"required,max=64"`
}

type ResumePaymentRequest struct {
	Source string `json:"source" binding:"max=64"`
}

type PaymentURLResponse struct {
	TicketID   int64  `json:"ticketId"`
	PaymentURL string `json:"paymentUrl"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
