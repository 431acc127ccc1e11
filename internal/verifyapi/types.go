package verifyapi

// JobType identifies the kind of verification job.
type JobType int

const (
	SmartSelfieAuthentication JobType = 2
	SmartSelfieEnrollment     JobType = 4
)

// JobTypeFor picks the job type for an enrollment or authentication session.
func JobTypeFor(isEnroll bool) JobType {
	if isEnroll {
		return SmartSelfieEnrollment
	}
	return SmartSelfieAuthentication
}

// AuthenticationRequest opens a job for a user.
type AuthenticationRequest struct {
	JobType    JobType `json:"job_type"`
	Enrollment bool    `json:"enrollment"`
	UserID     string  `json:"user_id,omitempty"`
	PartnerID  string  `json:"partner_id"`
	AuthToken  string  `json:"auth_token"`
}

// PartnerParams identify the job on the partner side.
type PartnerParams struct {
	JobID   string  `json:"job_id"`
	UserID  string  `json:"user_id"`
	JobType JobType `json:"job_type"`
}

// AuthenticationResponse carries the signed parameters for the upload.
type AuthenticationResponse struct {
	Success       bool          `json:"success"`
	Signature     string        `json:"signature"`
	Timestamp     string        `json:"timestamp"`
	PartnerParams PartnerParams `json:"partner_params"`
}

// PrepUploadRequest asks for an upload target.
type PrepUploadRequest struct {
	PartnerParams PartnerParams `json:"partner_params"`
	Timestamp     string        `json:"timestamp"`
	Signature     string        `json:"signature"`
	PartnerID     string        `json:"smile_client_id"`
	FileName      string        `json:"file_name"`
	CallbackURL   string        `json:"callback_url,omitempty"`
}

// PrepUploadResponse names where the package must be uploaded.
type PrepUploadResponse struct {
	Code       string `json:"code"`
	RefID      string `json:"ref_id"`
	UploadURL  string `json:"upload_url"`
	SmileJobID string `json:"smile_job_id"`
}

// UploadKind distinguishes the upload completion variants.
type UploadKind int

const (
	// UploadCompleted is the "response" variant: the package was accepted
	// and stored.
	UploadCompleted UploadKind = iota
	// UploadAccepted means the target took the bytes but has not confirmed.
	UploadAccepted
)

func (k UploadKind) String() string {
	switch k {
	case UploadCompleted:
		return "response"
	case UploadAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// UploadResponse is the result of the final step.
type UploadResponse struct {
	Kind       UploadKind
	StatusCode int
}
