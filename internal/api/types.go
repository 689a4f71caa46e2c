package api

// Credentials are posted to the login endpoint.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// OTPRequest completes a one-time-password sign in. Token is the temporary
// token returned by Login when a second factor is required.
type OTPRequest struct {
	Token string `json:"token" validate:"required"`
	OTP   string `json:"otp" validate:"required,numeric,len=6"`
}

type UserInput struct {
	Username   string `json:"username" validate:"required,max=50"`
	UserNumber int64  `json:"usernumber" validate:"required,gt=0"`
	UserEmail  string `json:"useremail" validate:"required,email"`
	ClientID   int64  `json:"clientid" validate:"required,gt=0"`
}

type OutletInput struct {
	Aggregator   string `json:"aggregator" validate:"required"`
	ResID        string `json:"resid" validate:"required"`
	Subzone      string `json:"subzone" validate:"required"`
	City         string `json:"city" validate:"required"`
	OutletNumber string `json:"outletnumber" validate:"required"`
	IsActive     bool   `json:"is_active"`
	ClientID     int64  `json:"clientid" validate:"required,gt=0"`
	BrandID      int64  `json:"brandid" validate:"required,gt=0"`
}

type ServiceInput struct {
	ServiceName    string `json:"servicename" validate:"required,max=100"`
	ServiceVariant string `json:"servicevariant" validate:"required,max=100"`
}

type OutletServiceMapping struct {
	OutletID  int64 `json:"outlet_id" validate:"required,gt=0"`
	ServiceID int64 `json:"service_id" validate:"required,gt=0"`
	ClientID  int64 `json:"client_id" validate:"required,gt=0"`
}

type UserOutletMapping struct {
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
	OutletID int64 `json:"outlet_id" validate:"required,gt=0"`
	ClientID int64 `json:"client_id" validate:"required,gt=0"`
}

type UserServiceMapping struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	ServiceID int64 `json:"service_id" validate:"required,gt=0"`
	ClientID  int64 `json:"client_id" validate:"required,gt=0"`
}

// Widget is a dashboard widget definition. Only its name is checked.
type Widget struct {
	Name string `json:"name" validate:"required"`
}
